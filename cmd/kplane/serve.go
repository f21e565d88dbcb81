package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kplane/kplane/internal/httpapi"
)

var serveAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP admin API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "listen address, overriding http.addr")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddrFlag != "" {
		cfg.HTTP.Addr = serveAddrFlag
	}

	s, err := newStack(cfg, log, true)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := httpapi.New(s.cl, cfg.HTTP,
		httpapi.Logger(log),
		httpapi.Metrics(s.metrics, s.metrics.Handler()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("serving admin api", zap.String("addr", cfg.HTTP.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down admin api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
