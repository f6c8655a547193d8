package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pams-ai/internal/plan"
	"pams-ai/internal/policy"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics [question]",
	Short: "Answer with the SQL stages only, without retrieval or model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		engine, resolver, err := a.resolvers()
		if err != nil {
			return err
		}
		if engine == nil {
			return errors.New("analytics needs a business database")
		}

		ctx := policy.WithRole(cmd.Context(), policy.Analyst)
		q := strings.Join(args, " ")
		out := cmd.OutOrStdout()
		parsed := plan.Parse(q)
		fmt.Fprintf(out, "plan: %s %+v\n", parsed.Kind(), parsed)

		res, err := engine.Run(ctx, q)
		if err != nil {
			return err
		}
		if res == nil {
			if rel, ok := parsed.(plan.Relational); ok {
				r, err := resolver.Resolve(ctx, rel.EntityTable, rel.Attribute, rel.EntityName)
				if err != nil {
					return err
				}
				if r != nil {
					fmt.Fprintf(out, "%s\nused: %v\n", r.Text, r.Used)
					return nil
				}
			}
			if res, err = engine.Patterns(ctx, q); err != nil {
				return err
			}
		}
		if res == nil {
			fmt.Fprintln(out, "no deterministic answer")
			return nil
		}
		fmt.Fprintf(out, "%s\nused: %v\n", res.Text, res.Used)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyticsCmd)
}
