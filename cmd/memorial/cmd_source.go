package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/memorial/internal/ingest"
	"github.com/user/memorial/internal/render"
	"github.com/user/memorial/internal/types"
)

var (
	sourceNotebook string
	sourceTitle    string
	sourceType     string
	sourceFile     string
	sourceURL      string
	sourceSummary  string
	sourceID       string
)

func init() {
	rootCmd.AddCommand(sourceCmd)
	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd)
	sourceCmd.PersistentFlags().StringVar(&sourceNotebook, "notebook", "", "notebook id (default: notebook_id from config)")

	f := sourceAddCmd.Flags()
	f.StringVar(&sourceTitle, "title", "", "source title")
	f.StringVar(&sourceType, "type", "", "source type: pdf, text, website, youtube, audio")
	f.StringVar(&sourceFile, "file", "", "read content from a local file")
	f.StringVar(&sourceURL, "url", "", "source url; fetched as content when --file is not given")
	f.StringVar(&sourceSummary, "summary", "", "source summary shown as the source guide")
	f.StringVar(&sourceID, "id", "", "source id to replace (default: a new id)")
	sourceAddCmd.MarkFlagRequired("title")
}

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage notebook sources (sqlite backend)",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a processed source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		notebookID, err := notebookFlag(cfg, sourceNotebook)
		if err != nil {
			return err
		}
		if sourceFile == "" && sourceURL == "" {
			return errors.New("one of --file or --url is required")
		}

		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		local, err := b.local()
		if err != nil {
			return err
		}

		var content string
		if sourceFile != "" {
			content, err = ingest.ReadFile(sourceFile)
		} else {
			content, err = ingest.NewFetcher().Fetch(cmd.Context(), sourceURL)
		}
		if err != nil {
			return err
		}

		typ := types.SourceType(sourceType)
		if typ == "" && sourceURL != "" {
			typ = types.SourceTypeWebsite
		}
		status := types.StatusCompleted
		src := &types.Source{
			ID:               types.SourceID(sourceID),
			NotebookID:       notebookID,
			Title:            sourceTitle,
			Type:             typ,
			Content:          &content,
			ProcessingStatus: &status,
		}
		if sourceSummary != "" {
			src.Summary = &sourceSummary
		}
		if sourceURL != "" {
			src.URL = &sourceURL
		}
		if err := local.PutSource(cmd.Context(), src); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Source %s saved (%d characters).\n", src.ID, len([]rune(content)))
		return nil
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sources of a notebook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		notebookID, err := notebookFlag(cfg, sourceNotebook)
		if err != nil {
			return err
		}
		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		list, err := b.Sources.ListSources(cmd.Context(), notebookID)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sources found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tTITLE")
		for _, s := range list {
			status := "-"
			if s.ProcessingStatus != nil {
				status = *s.ProcessingStatus
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Type, status, render.Truncate(s.Title, 60))
		}
		return w.Flush()
	},
}
