package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"genpipe/internal/pipeline"
	"genpipe/internal/poll"
	"genpipe/internal/transport"
)

var errNotReconciled = errors.New("condition not met")

func (a *app) pollCmd() *cobra.Command {
	var (
		field    string
		equals   string
		atLeast  float64
		changed  bool
		attempts int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "poll PATH",
		Short: "Re-read an upstream resource until a field reaches the expected value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			pipe, err := pipeline.New(a.cfg, &a.logger, nil)
			if err != nil {
				return err
			}
			defer pipe.Orchestrator.Close()

			read := func(ctx context.Context) (json.RawMessage, error) {
				var raw json.RawMessage
				err := pipe.Client.Do(ctx, transport.Request{Method: http.MethodGet, Path: path}, &raw)
				return raw, err
			}

			var pred func(json.RawMessage) bool
			switch {
			case cmd.Flags().Changed("equals"):
				pred = poll.FieldEquals(field, equals)
			case cmd.Flags().Changed("at-least"):
				pred = poll.FieldAtLeast(field, atLeast)
			case changed:
				before, err := read(cmd.Context())
				if err != nil {
					return fmt.Errorf("read baseline: %w", err)
				}
				pred = poll.FieldChanged(field, before)
			default:
				return errors.New("one of --equals, --at-least or --changed is required")
			}

			res, err := poll.Until(cmd.Context(), read, pred, attempts, delay, poll.WithLogger(&a.logger))
			if err != nil {
				return err
			}
			value := poll.Field(res.Value, field)
			if a.jsonOut {
				if err := a.printJSON(map[string]any{
					"path":      path,
					"field":     field,
					"value":     value,
					"attempts":  res.Attempts,
					"satisfied": res.Satisfied,
				}); err != nil {
					return err
				}
			} else {
				a.table(table.Row{"Path", "Field", "Value", "Reads", "Satisfied"},
					table.Row{path, field, value, res.Attempts, res.Satisfied})
			}
			if !res.Satisfied {
				if res.LastErr != nil {
					return fmt.Errorf("%w after %d reads: %w", errNotReconciled, res.Attempts, res.LastErr)
				}
				return fmt.Errorf("%w after %d reads", errNotReconciled, res.Attempts)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "gjson path of the field to check")
	cmd.Flags().StringVar(&equals, "equals", "", "stop when the field equals this value")
	cmd.Flags().Float64Var(&atLeast, "at-least", 0, "stop when the numeric field is at least this value")
	cmd.Flags().BoolVar(&changed, "changed", false, "stop when the field differs from its first read")
	cmd.Flags().IntVar(&attempts, "attempts", 5, "maximum number of reads")
	cmd.Flags().DurationVar(&delay, "delay", time.Second, "pause between reads")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}
