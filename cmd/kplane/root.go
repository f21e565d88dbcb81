package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kplane/kplane/internal/config"
)

var (
	configFlag    string
	brokersFlag   []string
	zookeeperFlag []string
	logLevelFlag  string
	outputFlag    string
	timeoutFlag   time.Duration

	cfg config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kplane",
	Short: "Administer topics, consumer groups, and reassignments of a Kafka cluster",
	Long: `kplane administers a Kafka cluster coordinated through ZooKeeper.

Topics, legacy (ZooKeeper) and coordinator consumer groups, offsets, topic
configs, and partition reassignments can be managed from the command line
or through the HTTP admin API started by "kplane serve".`,
	PersistentPreRunE: initialize,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&brokersFlag, "brokers", nil, "seed brokers, overriding kafka.brokers")
	rootCmd.PersistentFlags().StringSliceVar(&zookeeperFlag, "zookeeper", nil, "zookeeper servers, overriding zookeeper.servers")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level, overriding log.level")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "output format: table or json")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "timeout for one shot commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(topicCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(reassignCmd)
	rootCmd.AddCommand(brokersCmd)
	rootCmd.AddCommand(versionCmd)
}

// initialize loads the config, applies flag overrides, and builds the
// logger for every command.
func initialize(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	if outputFlag != "table" && outputFlag != "json" {
		return fmt.Errorf("unknown output format %q", outputFlag)
	}

	var err error
	if cfg, err = config.Load(configFlag); err != nil {
		return err
	}
	if len(brokersFlag) > 0 {
		cfg.Kafka.Brokers = brokersFlag
	}
	if len(zookeeperFlag) > 0 {
		cfg.ZooKeeper.Servers = zookeeperFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = strings.ToLower(logLevelFlag)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err = newLogger(cfg.Log)
	return err
}

func newLogger(c config.Log) (*zap.Logger, error) {
	level, err := c.ZapLevel()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// commandContext bounds a one shot command by the timeout flag.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeoutFlag)
}
