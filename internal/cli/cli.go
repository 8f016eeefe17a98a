// Package cli implements genctl, the operator command line for the pipeline.
//
//	genctl generate KEY [--payload JSON|@file] [--design JSON|@file] [--attach field=path] [--out DIR]
//	genctl mutate OPERATION PATH [--method POST] [--body JSON|@file] [--key K]
//	genctl poll PATH --field F (--equals V | --at-least N | --changed)
//	genctl policies
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"genpipe/internal/feedback"
	"genpipe/internal/infra"
	"genpipe/internal/transport"
)

// Options configures the command tree.
type Options struct {
	Out io.Writer
	Err io.Writer
	// Env replaces the process environment and env files when non-nil.
	Env map[string]string
}

type app struct {
	opts    Options
	cfg     *infra.Config
	logger  infra.Logger
	jsonOut bool
	locale  string
	verbose bool
}

// NewRootCmd builds the genctl command tree.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	a := &app{opts: opts}
	root := &cobra.Command{
		Use:           "genctl",
		Short:         "Run generation jobs and retried mutations against the upstream",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "output JSON")
	root.PersistentFlags().StringVar(&a.locale, "locale", "", "message locale, en or id (default DEFAULT_LOCALE)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(a.generateCmd())
	root.AddCommand(a.mutateCmd())
	root.AddCommand(a.pollCmd())
	root.AddCommand(a.policiesCmd())
	return root
}

func (a *app) load() error {
	var (
		cfg *infra.Config
		err error
	)
	if a.opts.Env != nil {
		cfg, err = infra.ParseConfig(a.opts.Env)
	} else {
		cfg, err = infra.LoadConfig()
	}
	if err != nil {
		return err
	}
	a.cfg = cfg
	level := zerolog.WarnLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.logger = infra.NewLoggerTo(a.opts.Err, cfg.AppEnv).Level(level)
	if a.locale == "" {
		a.locale = cfg.DefaultLocale
	}
	return nil
}

func (a *app) printer() *feedback.Printer {
	return feedback.For(a.locale)
}

// status writes a progress line unless JSON output is requested.
func (a *app) status(msg string) {
	if a.jsonOut || msg == "" {
		return
	}
	fmt.Fprintln(a.opts.Err, msg)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.opts.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) table(header table.Row, rows ...table.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(a.opts.Out)
	tw.AppendHeader(header)
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
}

// readJSONArg accepts inline JSON or @path.
func readJSONArg(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	data := []byte(s)
	if strings.HasPrefix(s, "@") {
		var err error
		if data, err = os.ReadFile(strings.TrimPrefix(s, "@")); err != nil {
			return nil, err
		}
	}
	if !json.Valid(data) {
		return nil, errors.New("not valid JSON")
	}
	return json.RawMessage(data), nil
}

// parseAttachments reads field=path pairs.
func parseAttachments(args []string) ([]transport.Attachment, error) {
	out := make([]transport.Attachment, 0, len(args))
	for _, arg := range args {
		field, path, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(field) == "" || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("attachment %q: want field=path", arg)
		}
		att, err := transport.AttachmentFromFile(strings.TrimSpace(field), strings.TrimSpace(path))
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}
