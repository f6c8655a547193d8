package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pams-ai/internal/helper"
	"pams-ai/internal/rag"
)

var (
	retrieveTopK        int
	retrieveSourceTypes []string
	retrieveHint        string
	retrieveJSON        bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Run hybrid retrieval only",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		ctx := cmd.Context()
		cls, err := a.classifier()
		if err != nil {
			return err
		}
		r, err := a.retriever(ctx, cls)
		if err != nil {
			return err
		}
		res, err := r.Retrieve(ctx, rag.Request{
			Query:       strings.Join(args, " "),
			TopK:        retrieveTopK,
			SourceTypes: retrieveSourceTypes,
			EntityHint:  retrieveHint,
		})
		if err != nil {
			return fmt.Errorf("retrieve: %w", err)
		}

		out := cmd.OutOrStdout()
		if retrieveJSON {
			helper.PrettyPrint(out, res)
			return nil
		}
		fmt.Fprintf(out, "domain=%s scope=%v widened=%t\n\n", res.Domain, res.Scope, res.Widened)
		for i, c := range res.Chunks {
			content := c.Content
			if runes := []rune(content); len(runes) > 240 {
				content = string(runes[:240]) + "…"
			}
			fmt.Fprintf(out, "[%d] %.3f %s %s\n    %s\n", i+1, c.Score, c.SourceType, c.SourceID, content)
		}
		return nil
	},
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveTopK, "top-k", "k", 8, "number of chunks")
	retrieveCmd.Flags().StringSliceVar(&retrieveSourceTypes, "source-type", nil, "restrict to source types (e.g. maxula:fonds,pdf_ocr)")
	retrieveCmd.Flags().StringVar(&retrieveHint, "hint", "", "entity hint for the keyword pass")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(retrieveCmd)
}
