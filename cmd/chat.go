package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pams-ai/internal/chat"
	"pams-ai/internal/helper"
	"pams-ai/internal/models"
)

var (
	chatRole string
	chatTopK int
	chatMode string
	chatJSON bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask a question",
	Long: `Runs the question through the answering cascade and prints the answer,
its trace and its sources. Without a question, reads one question per line
from stdin until EOF or "exit".`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatRole, "role", "viewer", "caller role (viewer, analyst, admin)")
	chatCmd.Flags().IntVarP(&chatTopK, "top-k", "k", 8, "number of retrieved chunks")
	chatCmd.Flags().StringVar(&chatMode, "mode", chat.ModeRAG, "rag or agent")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print the response envelope as JSON")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a := newApp()
	defer a.Close()

	ctx := cmd.Context()
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}

	ask := func(q string) {
		res := p.Answer(ctx, chat.Request{Message: q, TopK: chatTopK, Role: chatRole, Mode: chatMode})
		if chatJSON {
			helper.PrettyPrint(cmd.OutOrStdout(), res)
			return
		}
		printResult(cmd.OutOrStdout(), res)
	}

	if len(args) > 0 {
		ask(strings.Join(args, " "))
		return nil
	}

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		q := strings.TrimSpace(scanner.Text())
		switch {
		case q == "exit" || q == "quit":
			return nil
		case q != "":
			ask(q)
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "\n> ")
	}
	return scanner.Err()
}

func printResult(w io.Writer, res models.QueryResult) {
	fmt.Fprintf(w, "\nANSWER:\n%s\n", res.Answer)
	fmt.Fprintf(w, "\nUSED: %v\n", res.Used)
	if len(res.Navigation) > 0 {
		fmt.Fprintf(w, "\nNAV: %v\n", res.Navigation)
	}
	if len(res.SuggestedActions) > 0 {
		fmt.Fprintf(w, "\nACTIONS: %v\n", res.SuggestedActions)
	}
	if len(res.Sources) > 0 {
		fmt.Fprintln(w, "\nSOURCES:")
		for _, s := range res.Sources[:min(5, len(res.Sources))] {
			fmt.Fprintf(w, " - [%d] %s %s (%.3f)\n", s.ID, s.SourceType, s.SourceID, s.Score)
		}
	}
}
