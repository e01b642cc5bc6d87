package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/engine"
	"github.com/roach88/runledger/internal/ir"
)

// ThreadOptions holds flags for the thread command.
type ThreadOptions struct {
	*RootOptions
	Database string
}

// NewThreadCommand creates the thread command.
func NewThreadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ThreadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "thread <thread-id>",
		Short: "Show a conversation thread",
		Long: `Show a chat thread as a tree: its main-line turns in order and, under
each turn, the retries forked from it.

Examples:
  runledger thread --db ./runledger.db 11111111-1111-4111-8111-111111111111
  runledger thread --db ./runledger.db my-thread --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(opts.RootOptions, cmd)
			return p.fail(runThread(commandContext(cmd), opts, args[0], p))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides config)")

	return cmd
}

func runThread(ctx context.Context, opts *ThreadOptions, threadID string, p *printer) error {
	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	eng, st, err := openEngine(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	view, err := eng.Thread(ctx, threadID)
	if errors.Is(err, engine.ErrThreadNotFound) {
		return commandError(CodeThreadNotFound, "thread not found", err)
	}
	if err != nil {
		return failure(CodeStore, "failed to read thread", err)
	}

	return p.result(view, func(w io.Writer) {
		fmt.Fprintf(w, "Thread %s", view.Thread.ID)
		if view.Thread.App != "" {
			fmt.Fprintf(w, " (app %s)", view.Thread.App)
		}
		fmt.Fprintf(w, ": %d turn(s)\n", len(view.Turns))
		for i, turn := range view.Turns {
			printTurn(w, turn, fmt.Sprintf("%d.", i+1), 1)
		}
	})
}

// printTurn writes one turn and, indented below it, its forks.
func printTurn(w io.Writer, turn ir.Turn, label string, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s %s [%s] %s\n", indent, label, turn.Run.ID, turn.Run.Status,
		turn.Run.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"))
	for _, line := range messageLines(turn.Run.Input, ">") {
		fmt.Fprintf(w, "%s  %s\n", indent, line)
	}
	for _, line := range messageLines(turn.Run.Output, "<") {
		fmt.Fprintf(w, "%s  %s\n", indent, line)
	}
	for _, sib := range turn.Siblings {
		printTurn(w, sib, "retry", depth+1)
	}
}

// messageLines renders a stored message list as "marker role: content".
// Payloads that are not message lists are shown as canonical JSON.
func messageLines(raw []byte, marker string) []string {
	if len(raw) == 0 {
		return nil
	}
	decoded, err := ir.DecodeJSON(raw)
	if err != nil {
		return []string{marker + " " + string(raw)}
	}
	list, ok := decoded.([]any)
	if !ok {
		return []string{marker + " " + compact(decoded)}
	}

	lines := make([]string, 0, len(list))
	for _, item := range list {
		msg, ok := item.(map[string]any)
		if !ok {
			lines = append(lines, marker+" "+compact(item))
			continue
		}
		role, _ := msg["role"].(string)
		content, ok := msg["content"].(string)
		if !ok {
			content = compact(msg["content"])
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", marker, role, content))
	}
	return lines
}

func compact(v any) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
