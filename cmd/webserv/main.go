// webserv entry point: resolve config, build the logger, the SQL pool and
// the reactor, then run until a signal asks for shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/s00inx/webserv/config"
	"github.com/s00inx/webserv/logx"
	"github.com/s00inx/webserv/server"
	"github.com/s00inx/webserv/server/sqlpool"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "webserv",
		Short:         "epoll reactor HTTP/1.1 server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	log, sink, err := logx.New(logx.Config{
		Enabled:  cfg.LogEnabled,
		Level:    cfg.LogLevel,
		Dir:      cfg.LogDir,
		Suffix:   cfg.LogSuffix,
		MaxLines: 50000,
		QueueCap: cfg.LogQueueCapacity,
	})
	if err != nil {
		return fmt.Errorf("log init: %w", err)
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
	}()

	var users server.UserStore
	if cfg.SQLHost != "" {
		store, err := sqlpool.Open(ctx, sqlpool.Config{
			Host:     cfg.SQLHost,
			Port:     cfg.SQLPort,
			User:     cfg.SQLUser,
			Password: cfg.SQLPwd,
			DBName:   cfg.SQLDb,
			PoolSize: cfg.SQLPoolSize,
		}, log)
		if err != nil {
			return fmt.Errorf("sql init: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("sql close", zap.Error(err))
			}
		}()
		users = store
	} else {
		log.Warn("sql disabled, form logins will fail")
	}

	srv, err := server.New(cfg, log, users)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("signal received")
		srv.Stop()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
