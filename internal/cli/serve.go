package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/config"
	"github.com/roach88/runledger/internal/engine"
	"github.com/roach88/runledger/internal/queue"
	"github.com/roach88/runledger/internal/server"
	"github.com/roach88/runledger/internal/tracing"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest server",
		Long: `Run the HTTP ingest server and, when nats.url is configured, the
JetStream consumer.

Configuration comes from the --config file, then RUNLEDGER_* environment
variables, then flags.

Example:
  runledger serve --db ./runledger.db
  runledger serve --config runledger.yaml --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newPrinter(opts.RootOptions, cmd).fail(runServe(opts, cmd))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides config)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	tp, err := tracing.InitTracer(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return commandError(CodeConfig, "failed to initialize tracing", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer done()
		if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
			log.Error("error shutting down tracer", zap.Error(err))
		}
	}()

	eng, st, err := openEngine(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", zap.Error(closeErr))
		}
	}()
	log.Info("database ready", zap.String("dialect", st.Dialect()))

	consumerDone := make(chan error, 1)
	if cfg.NATS.URL != "" {
		client, consumer, err := startConsumer(ctx, cfg.NATS, eng, log)
		if err != nil {
			return commandError(CodeQueue, "failed to start queue consumer", err)
		}
		defer client.Close()

		go func() {
			err := consumer.Run(ctx)
			if err != nil {
				log.Error("queue consumer stopped", zap.Error(err))
				cancel()
			}
			consumerDone <- err
		}()
	} else {
		close(consumerDone)
	}

	srv := server.New(eng, st, cfg.HTTP, log)
	if err := srv.ListenAndServe(ctx); err != nil {
		return failure(CodeServe, "server error", err)
	}

	cancel()
	if err := <-consumerDone; err != nil {
		return failure(CodeQueue, "queue consumer error", err)
	}

	log.Info("runledger stopped gracefully")
	return nil
}

// startConsumer connects to NATS and prepares the consumer. The stream is
// created on first use.
func startConsumer(ctx context.Context, cfg config.NATSConfig, eng *engine.Engine, log *zap.Logger) (*queue.Client, *queue.Consumer, error) {
	client, err := queue.Connect(cfg.URL, log)
	if err != nil {
		return nil, nil, err
	}
	if err := client.EnsureStream(ctx, cfg.Stream, cfg.Subject); err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, queue.NewConsumer(client, eng, cfg, log), nil
}
