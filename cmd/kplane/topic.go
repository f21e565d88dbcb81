package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kplane/kplane/pkg/kplane"
)

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Manage topics",
}

var (
	topicPartitionsFlag int32
	topicRFFlag         int16
	topicConfigFlag     []string
	topicAssignFlag     string
	topicBriefFlag      bool
)

func init() {
	topicListCmd.Flags().BoolVar(&topicBriefFlag, "brief", false, "include partition counts and in sync ratios")

	topicCreateCmd.Flags().Int32VarP(&topicPartitionsFlag, "partitions", "p", 1, "number of partitions")
	topicCreateCmd.Flags().Int16VarP(&topicRFFlag, "replication-factor", "r", 1, "replication factor")
	topicCreateCmd.Flags().StringSliceVar(&topicConfigFlag, "config", nil, "topic config as key=value, repeatable")
	topicCreateCmd.Flags().StringVar(&topicAssignFlag, "replica-assignment", "", `explicit assignment, e.g. "1:2,2:3"`)

	topicAddPartitionsCmd.Flags().StringVar(&topicAssignFlag, "replica-assignment", "", "explicit assignment for the new partitions")

	topicConfigCmd.AddCommand(topicConfigGetCmd, topicConfigSetCmd, topicConfigDeleteCmd)
	topicCmd.AddCommand(
		topicListCmd,
		topicDescribeCmd,
		topicCreateCmd,
		topicDeleteCmd,
		topicAddPartitionsCmd,
		topicOffsetsCmd,
		topicConfigCmd,
	)
}

// withClient builds a stack without the group registry, runs fn, and closes
// the stack.
func withClient(fn func(cl *kplane.Client) error) error {
	s, err := newStack(cfg, log, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s.cl)
}

var topicListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			p := newPrinter(cmd)
			if !topicBriefFlag {
				topics, err := cl.ListTopics(ctx)
				if err != nil {
					return err
				}
				return p.emit(topics, func(w *tabwriter.Writer) {
					for _, t := range topics {
						row(w, t)
					}
				})
			}
			briefs, err := cl.ListTopicBriefs(ctx)
			if err != nil {
				return err
			}
			return p.emit(briefs, func(w *tabwriter.Writer) {
				row(w, "TOPIC", "PARTITIONS", "IN-SYNC")
				for _, b := range briefs {
					row(w, b.Topic, b.Partitions, fmt.Sprintf("%.2f", b.InSyncRatio))
				}
			})
		})
	},
}

func printTopic(cmd *cobra.Command, d kplane.TopicDetail) error {
	return newPrinter(cmd).emit(d, func(w *tabwriter.Writer) {
		row(w, "TOPIC", d.Topic)
		row(w, "PARTITIONS", d.PartitionCount)
		row(w, "REPLICATION", d.ReplicationFactor)
		for _, k := range slices.Sorted(maps.Keys(d.Configs)) {
			row(w, "CONFIG", k+"="+d.Configs[k])
		}
		row(w)
		row(w, "PARTITION", "LEADER", "REPLICAS", "ISR", "START", "END", "AVAILABLE")
		for _, p := range d.Partitions {
			row(w, p.Partition, p.Leader, joinInt32s(p.Replicas), joinInt32s(p.ISR), p.Window.Start, p.Window.End, p.MessagesAvailable)
		}
	})
}

var topicDescribeCmd = &cobra.Command{
	Use:   "describe TOPIC",
	Short: "Describe a topic's partitions, watermarks, and configs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			d, err := cl.DescribeTopic(ctx, args[0])
			if err != nil {
				return err
			}
			return printTopic(cmd, d)
		})
	},
}

var topicCreateCmd = &cobra.Command{
	Use:   "create TOPIC",
	Short: "Create a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := parseKeyValues(topicConfigFlag)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			d, err := cl.CreateTopic(ctx, kplane.TopicSpec{
				Name:              args[0],
				Partitions:        topicPartitionsFlag,
				ReplicationFactor: topicRFFlag,
				Configs:           configs,
			}, topicAssignFlag)
			if err != nil {
				return err
			}
			return printTopic(cmd, d)
		})
	},
}

var topicDeleteCmd = &cobra.Command{
	Use:   "delete TOPIC",
	Short: "Delete a topic and wait for it to disappear",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			if err := cl.DeleteTopic(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted topic %s\n", args[0])
			return nil
		})
	},
}

var topicAddPartitionsCmd = &cobra.Command{
	Use:   "add-partitions TOPIC COUNT",
	Short: "Add COUNT partitions to a topic",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var add int
		if _, err := fmt.Sscan(args[1], &add); err != nil {
			return fmt.Errorf("invalid partition count %q", args[1])
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			d, err := cl.AddPartitions(ctx, args[0], add, topicAssignFlag)
			if err != nil {
				return err
			}
			return printTopic(cmd, d)
		})
	},
}

var topicOffsetsCmd = &cobra.Command{
	Use:   "offsets TOPIC",
	Short: "Print the start and end offset of every partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			ws, err := cl.Watermarks(ctx, args[0])
			if err != nil {
				return err
			}
			return newPrinter(cmd).emit(ws, func(w *tabwriter.Writer) {
				row(w, "PARTITION", "START", "END")
				for _, p := range slices.Sorted(maps.Keys(ws)) {
					row(w, p, ws[p].Start, ws[p].End)
				}
			})
		})
	},
}

var topicConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage topic config overrides",
}

func printConfigs(cmd *cobra.Command, configs map[string]string) error {
	return newPrinter(cmd).emit(configs, func(w *tabwriter.Writer) {
		for _, k := range slices.Sorted(maps.Keys(configs)) {
			row(w, k, configs[k])
		}
	})
}

var topicConfigGetCmd = &cobra.Command{
	Use:   "get TOPIC",
	Short: "Print a topic's config overrides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			configs, err := cl.TopicConfig(ctx, args[0])
			if err != nil {
				return err
			}
			return printConfigs(cmd, configs)
		})
	},
}

var topicConfigSetCmd = &cobra.Command{
	Use:   "set TOPIC KEY=VALUE...",
	Short: "Merge config overrides into a topic's config",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := parseKeyValues(args[1:])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			merged, err := cl.SetTopicConfig(ctx, args[0], configs)
			if err != nil {
				return err
			}
			return printConfigs(cmd, merged)
		})
	},
}

var topicConfigDeleteCmd = &cobra.Command{
	Use:   "delete TOPIC KEY...",
	Short: "Remove config overrides from a topic",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			remaining, err := cl.DeleteTopicConfig(ctx, args[0], args[1:]...)
			if err != nil {
				return err
			}
			return printConfigs(cmd, remaining)
		})
	},
}

var brokersCmd = &cobra.Command{
	Use:   "brokers",
	Short: "List registered brokers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return withClient(func(cl *kplane.Client) error {
			bs, err := cl.ListBrokers(ctx)
			if err != nil {
				return err
			}
			return newPrinter(cmd).emit(bs, func(w *tabwriter.Writer) {
				row(w, "ID", "HOST", "PORT", "RACK", "ENDPOINTS")
				for _, b := range bs {
					row(w, b.ID, b.Host, b.Port, b.Rack, strings.Join(b.Endpoints, ","))
				}
			})
		})
	},
}

// parseKeyValues parses key=value pairs.
func parseKeyValues(kvs []string) (map[string]string, error) {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid config %q, expected key=value", kv)
		}
		m[k] = v
	}
	return m, nil
}
