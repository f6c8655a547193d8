package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var schemaMaxDepth int

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the introspected business schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := newApp()
		defer a.Close()

		graphs, err := a.schema()
		if err != nil {
			return err
		}
		g, err := graphs.Get(cmd.Context(), true)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, name := range g.Tables() {
			t, _ := g.Table(name)
			cols := make([]string, 0, len(t.Columns))
			for _, c := range t.Columns {
				cols = append(cols, c.Name+" "+c.DataType)
			}
			fmt.Fprintf(out, "%s (pk: %s)\n  %s\n", name, strings.Join(t.PrimaryKey, ", "), strings.Join(cols, ", "))
			for _, fk := range g.Outgoing(name) {
				fmt.Fprintf(out, "  %s -> %s.%s\n", fk.FromColumn, fk.ToTable, fk.ToColumn)
			}
		}
		return nil
	},
}

var schemaPathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Print the join path between two tables",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		graphs, err := a.schema()
		if err != nil {
			return err
		}
		g, err := graphs.Get(cmd.Context(), false)
		if err != nil {
			return err
		}
		steps, ok := g.FindJoinPath(args[0], args[1], schemaMaxDepth)
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintf(out, "no path from %s to %s within %d hops\n", args[0], args[1], schemaMaxDepth)
			return nil
		}
		for _, s := range steps {
			fmt.Fprintf(out, "%s.%s = %s.%s\n", s.FromTable, s.FromColumn, s.ToTable, s.ToColumn)
		}
		return nil
	},
}

func init() {
	schemaPathCmd.Flags().IntVar(&schemaMaxDepth, "max-depth", 3, "maximum number of joins")
	schemaCmd.AddCommand(schemaPathCmd)
	rootCmd.AddCommand(schemaCmd)
}
