package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"pams-ai/internal/db"
	"pams-ai/internal/helper"
	"pams-ai/internal/ingest"
	"pams-ai/internal/parser"
	"pams-ai/internal/policy"
	"pams-ai/internal/sqlexec"
)

var (
	ingestTables  []string
	ingestTimeout time.Duration
	initDBDrop    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index business rows or documents into the retrieval store",
}

var ingestDBCmd = &cobra.Command{
	Use:   "db",
	Short: "Index every row of the business tables, one chunk per row",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := newApp()
		defer a.Close()

		ctx := policy.WithRole(cmd.Context(), policy.Admin)
		store, err := a.chunkStore(ctx)
		if err != nil {
			return err
		}
		emb, err := a.embedder()
		if err != nil {
			return err
		}
		graphs, err := a.schema()
		if err != nil {
			return err
		}
		bdb, err := a.database()
		if err != nil {
			return err
		}

		ingestCfg := a.cfg.Ingest
		if len(ingestTables) > 0 {
			ingestCfg.Tables = ingestTables
		}
		exec := sqlexec.NewExecutor(bdb, ingestTimeout)
		ix := ingest.NewRowIndexer(graphs, exec, store, emb, ingestCfg, a.cfg.Database.Name)
		reports, err := ix.IndexAll(ctx)
		if err != nil {
			return err
		}
		helper.PrettyPrint(cmd.OutOrStdout(), reports)
		return nil
	},
}

var ingestFilesCmd = &cobra.Command{
	Use:   "files [dir]",
	Short: "Index the documents of a directory, skipping unchanged files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		ctx := cmd.Context()
		dir := a.cfg.Ingest.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		store, err := a.chunkStore(ctx)
		if err != nil {
			return err
		}
		emb, err := a.embedder()
		if err != nil {
			return err
		}

		ix := ingest.NewFileIndexer(store, emb, parser.NewChunker(a.cfg.Ingest))
		reports, err := ix.IndexDir(ctx, dir)
		if err != nil {
			return err
		}
		helper.PrettyPrint(cmd.OutOrStdout(), reports)
		return nil
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the pgvector extension and the retrieval tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := newApp()
		defer a.Close()

		if a.cfg.Store.Backend == "chromem" {
			return errors.New("init-db applies to the postgres store backend only")
		}
		bdb, err := a.database()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if initDBDrop {
			if err := db.DropRAGTables(ctx, bdb); err != nil {
				return err
			}
		}
		if err := db.InitDB(ctx, bdb, a.cfg.Store.Dimension); err != nil {
			return err
		}
		cmd.Println("retrieval tables ready")
		return nil
	},
}

func init() {
	ingestDBCmd.Flags().StringSliceVar(&ingestTables, "table", nil, "index only these tables")
	ingestDBCmd.Flags().DurationVar(&ingestTimeout, "timeout", 2*time.Minute, "statement timeout per table")
	ingestCmd.AddCommand(ingestDBCmd, ingestFilesCmd)
	rootCmd.AddCommand(ingestCmd)

	initDBCmd.Flags().BoolVar(&initDBDrop, "drop", false, "drop the retrieval tables first")
	rootCmd.AddCommand(initDBCmd)
}
