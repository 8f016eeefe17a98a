package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"genpipe/internal/domain"
	"genpipe/internal/domain/jsoncfg"
	"genpipe/internal/generation"
	"genpipe/internal/pipeline"
	"genpipe/internal/storage"
)

func (a *app) generateCmd() *cobra.Command {
	var (
		payload string
		design  string
		variant string
		outDir  string
		attach  []string
		sets    []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate KEY",
		Short: "Start a generation job and follow it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			v, err := generation.ParseVariant(variant)
			if err != nil {
				return err
			}
			body, err := readJSONArg(payload)
			if err != nil {
				return fmt.Errorf("--payload: %w", err)
			}
			if design != "" || len(sets) > 0 {
				if body, err = a.withDesign(body, design, sets); err != nil {
					return err
				}
			}
			attachments, err := parseAttachments(attach)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			pipe, err := pipeline.New(a.cfg, &a.logger, nil)
			if err != nil {
				return err
			}
			defer pipe.Orchestrator.Close()

			if _, _, err := pipe.Orchestrator.Start(ctx, generation.Request{
				Key:         key,
				Variant:     v,
				Payload:     body,
				Attachments: attachments,
			}, nil); err != nil {
				return err
			}
			final, err := a.follow(ctx, pipe.Orchestrator, key)
			if err != nil {
				return err
			}
			if final.Phase == domain.PhaseError {
				return fmt.Errorf("generation %s failed: %s", key, final.Error)
			}

			saved := ""
			if outDir != "" && final.ResultURL != "" {
				if saved, err = download(ctx, pipe, outDir, key, final.ResultURL); err != nil {
					return err
				}
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"job": final, "saved": saved})
			}
			a.table(table.Row{"Key", "Phase", "Result", "Saved"},
				table.Row{final.Key, final.Phase, final.ResultURL, saved})
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "request payload, inline JSON or @file")
	cmd.Flags().StringVar(&design, "design", "", "design choices, inline JSON or @file")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set one design field as name=value (repeatable, value may be JSON)")
	cmd.Flags().StringVar(&variant, "variant", "plain", "plain or enriched (adds stored provider credentials)")
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "attach a file as field=path (repeatable)")
	cmd.Flags().StringVar(&outDir, "out", "", "download the result into this directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up and cancel the job after this long")
	return cmd
}

// follow prints each snapshot until the job is terminal. If ctx ends first
// the job is canceled.
func (a *app) follow(ctx context.Context, orch *generation.Orchestrator, key string) (domain.Job, error) {
	updates, unsubscribe, err := orch.Watch(key)
	if err != nil {
		return domain.Job{}, err
	}
	defer unsubscribe()
	p := a.printer()
	var last domain.Job
	for {
		select {
		case <-ctx.Done():
			_ = orch.Cancel(key)
			return last, ctx.Err()
		case j, ok := <-updates:
			if !ok {
				return last, nil
			}
			last = j
			a.status(p.Job(j))
		}
	}
}

func download(ctx context.Context, pipe *pipeline.Pipeline, dir, key, resultURL string) (string, error) {
	store, err := storage.NewFileStore(dir)
	if err != nil {
		return "", err
	}
	data, contentType, err := pipe.Client.Download(ctx, resultURL)
	if err != nil {
		return "", err
	}
	storageKey, err := store.SaveResult(ctx, key, data, contentType)
	if err != nil {
		return "", err
	}
	return filepath.Join(store.BasePath(), filepath.FromSlash(storageKey)), nil
}

func (a *app) withDesign(body json.RawMessage, design string, sets []string) (json.RawMessage, error) {
	raw, err := readJSONArg(design)
	if err != nil {
		return nil, fmt.Errorf("--design: %w", err)
	}
	choices, err := jsoncfg.ParseDesignChoices(raw)
	if err != nil {
		return nil, fmt.Errorf("--design: %w", err)
	}
	for _, kv := range sets {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: want name=value", kv)
		}
		var v any = value
		if json.Valid([]byte(value)) {
			v = json.RawMessage(value)
		}
		if err := choices.Set(name, v); err != nil {
			return nil, fmt.Errorf("--set: %w", err)
		}
	}
	a.logger.Debug().Str("version", choices.Version).Strs("fields", choices.Keys()).Msg("design choices")

	fields := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("--payload must be a JSON object when design choices are set")
		}
	}
	fields["design"] = choices
	return json.Marshal(fields)
}
