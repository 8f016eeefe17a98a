package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"genpipe/internal/policy"
)

func (a *app) policiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Show the effective retry policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := policy.Load(a.cfg.RetryPolicyFile)
			if err != nil {
				return err
			}
			names := append([]string{"default"}, set.Names()...)
			if a.jsonOut {
				out := make(map[string]policy.Policy, len(names))
				out["default"] = set.Default
				for _, n := range set.Names() {
					out[n] = set.For(n)
				}
				return a.printJSON(out)
			}
			rows := make([]table.Row, 0, len(names))
			for _, n := range names {
				p := set.Default
				if n != "default" {
					p = set.For(n)
				}
				rows = append(rows, table.Row{n, p.MaxAttempts, p.Backoff, p.Timeout})
			}
			a.table(table.Row{"Operation", "Max attempts", "Backoff", "Timeout"}, rows...)
			return nil
		},
	}
}
