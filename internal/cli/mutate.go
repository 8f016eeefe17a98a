package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"genpipe/internal/pipeline"
	"genpipe/internal/resilient"
	"genpipe/internal/transport"
)

func (a *app) mutateCmd() *cobra.Command {
	var (
		method   string
		body     string
		key      string
		attempts int
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mutate OPERATION PATH",
		Short: "Send one state-changing request with retries and an idempotency key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operation, path := strings.ToLower(args[0]), args[1]
			payload, err := readJSONArg(body)
			if err != nil {
				return fmt.Errorf("--body: %w", err)
			}
			pipe, err := pipeline.New(a.cfg, &a.logger, nil)
			if err != nil {
				return err
			}
			defer pipe.Orchestrator.Close()

			opts := pipe.Policies.Options(operation)
			if attempts > 0 {
				opts.MaxAttempts = attempts
			}
			if timeout > 0 {
				opts.Timeout = timeout
			}
			opts.Logger = &a.logger
			p := a.printer()
			opts.OnStatus = func(s resilient.Status) {
				if s.State != resilient.StateFailed {
					a.status(p.Status(s))
				}
			}

			action := resilient.NewActionWithKey(operation, key)
			out, err := resilient.Execute(cmd.Context(), action, func(ctx context.Context, at resilient.Attempt) (json.RawMessage, error) {
				var raw json.RawMessage
				err := pipe.Client.Do(ctx, transport.Request{
					Method:         strings.ToUpper(method),
					Path:           path,
					Body:           payload,
					IdempotencyKey: at.IdempotencyKey,
				}, &raw)
				return raw, err
			}, opts)
			if err != nil {
				return fmt.Errorf("%s (idempotency key %s)", p.Status(action.Status()), action.Key())
			}

			if a.jsonOut {
				return a.printJSON(map[string]any{
					"operation":       operation,
					"attempts":        out.Attempts,
					"already_done":    out.AlreadyDone,
					"idempotency_key": out.IdempotencyKey,
					"result":          out.Value,
				})
			}
			a.table(table.Row{"Operation", "Attempts", "Already done", "Idempotency key"},
				table.Row{operation, out.Attempts, out.AlreadyDone, out.IdempotencyKey})
			if len(out.Value) > 0 {
				fmt.Fprintln(a.opts.Out, string(out.Value))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", http.MethodPost, "HTTP method")
	cmd.Flags().StringVar(&body, "body", "", "request body, inline JSON or @file")
	cmd.Flags().StringVar(&key, "key", "", "reuse an idempotency key from an earlier failed attempt")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "override the policy's max attempts")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the policy's per-attempt timeout")
	return cmd
}
