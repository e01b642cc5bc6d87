package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/config"
	"github.com/roach88/runledger/internal/engine"
	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/queue"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
	Publish  bool // publish to the configured NATS stream instead of ingesting
}

// IngestResult is the JSON payload of a direct ingest.
type IngestResult struct {
	Results   []ir.Result `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// PublishResult is the JSON payload of a publish.
type PublishResult struct {
	Stream   string `json:"stream"`
	Subject  string `json:"subject"`
	Sequence uint64 `json:"sequence"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a batch of events",
		Long: `Ingest a JSON batch of telemetry events.

The file holds either an array of events or an {"events": [...]} envelope.
Use "-" to read from stdin. With --publish the batch is appended to the
configured NATS stream for the serve command's consumer instead.

Exit codes:
  0 - All events applied
  1 - One or more events rejected
  2 - Command error (unreadable file, malformed batch, etc.)

Examples:
  runledger ingest --db ./runledger.db events.json
  cat events.json | runledger ingest --db ./runledger.db -
  runledger ingest --publish --config runledger.yaml events.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(opts.RootOptions, cmd)
			return p.fail(runIngest(commandContext(cmd), opts, args[0], cmd, p))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides config)")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "publish to NATS instead of ingesting directly")

	return cmd
}

func runIngest(ctx context.Context, opts *IngestOptions, path string, cmd *cobra.Command, p *printer) error {
	body, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return commandError(CodeInput, "failed to read events", err)
	}

	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if opts.Publish {
		return publishBatch(ctx, cfg.NATS, body, log, p)
	}

	eng, st, err := openEngine(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	p.debugf("Ingesting %d bytes into %s", len(body), st.Dialect())

	results, err := eng.IngestJSON(ctx, body)
	if err != nil {
		if engine.IsProtocolError(err) {
			return commandError(CodeBatch, "malformed batch", err)
		}
		return failure(CodeStore, "ingest failed", err)
	}

	out := IngestResult{Results: results}
	for _, r := range results {
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
			log.Debug("event rejected", zap.String("run_id", r.ID), zap.String("error", r.Error))
		}
	}

	text := func(w io.Writer) {
		for _, r := range results {
			id := r.ID
			if id == "" {
				id = "(no run id)"
			}
			if r.Success {
				fmt.Fprintf(w, "✓ %s\n", id)
			} else {
				fmt.Fprintf(w, "✗ %s: %s\n", id, r.Error)
			}
		}
		fmt.Fprintf(w, "\nIngest Summary: %d applied, %d rejected, %d total\n", out.Succeeded, out.Failed, len(results))
	}
	if out.Failed > 0 {
		return p.partial(out, text, failure(CodeRejected, fmt.Sprintf("%d event(s) rejected", out.Failed), nil))
	}
	return p.result(out, text)
}

// publishBatch appends the raw batch to the configured stream.
func publishBatch(ctx context.Context, cfg config.NATSConfig, body []byte, log *zap.Logger, p *printer) error {
	if cfg.URL == "" {
		return commandError(CodeConfig, "--publish requires nats.url to be configured", nil)
	}
	client, err := queue.Connect(cfg.URL, log)
	if err != nil {
		return commandError(CodeQueue, "failed to connect to NATS", err)
	}
	defer client.Close()
	if err := client.EnsureStream(ctx, cfg.Stream, cfg.Subject); err != nil {
		return commandError(CodeQueue, "failed to prepare stream", err)
	}
	seq, err := client.Publish(ctx, cfg.Subject, body)
	if err != nil {
		return failure(CodeQueue, "failed to publish batch", err)
	}

	res := PublishResult{Stream: cfg.Stream, Subject: cfg.Subject, Sequence: seq}
	return p.result(res, func(w io.Writer) {
		fmt.Fprintf(w, "Published batch to %s (sequence %d)\n", res.Stream, res.Sequence)
	})
}

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
