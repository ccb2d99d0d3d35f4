package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/memorial/internal/render"
	"github.com/user/memorial/internal/tribute"
	"github.com/user/memorial/internal/types"
)

var (
	tributeIn     types.NewTribute
	tributeLimit  int
	tributeOffset int
)

func init() {
	rootCmd.AddCommand(tributeCmd)
	tributeCmd.AddCommand(tributeAddCmd, tributeListCmd, tributeDeleteCmd)

	f := tributeAddCmd.Flags()
	f.StringVar(&tributeIn.Name, "name", "", "author name (default \""+tribute.DefaultName+"\")")
	f.StringVar(&tributeIn.Position, "position", "", "author's organization or position")
	f.StringVar(&tributeIn.Contents, "contents", "", "tribute text, plain or HTML")
	f.StringVar(&tributeIn.ImageURL, "image", "", "image url")

	tributeListCmd.Flags().IntVar(&tributeLimit, "limit", tribute.DefaultLimit, "page size")
	tributeListCmd.Flags().IntVar(&tributeOffset, "offset", 0, "rows to skip")
}

var tributeCmd = &cobra.Command{
	Use:   "tribute",
	Short: "Manage guestbook tributes",
}

var tributeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a tribute",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		t, err := tribute.Validate(tributeIn)
		if err != nil {
			return err
		}
		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		created, err := b.Tributes.CreateTribute(cmd.Context(), t)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tribute %s recorded.\n", created.ID)
		return nil
	},
}

var tributeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tributes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		limit, offset := tribute.Page(strconv.Itoa(tributeLimit), strconv.Itoa(tributeOffset))

		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		rows, total, err := b.Tributes.ListTributes(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDATE\tKIND\tAUTHOR\tCONTENT")
		for _, c := range tribute.Cards(rows) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Date, c.Kind, c.AuthorName, render.Truncate(c.Content, 50))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		p := tribute.Pagination(total, limit, offset)
		fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d", len(rows), p.Total)
		if p.HasMore {
			fmt.Fprintf(cmd.OutOrStdout(), " (next: --offset %d)", offset+limit)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

var tributeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Hide a tribute from listings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		id := types.TributeID(args[0])
		if err := deleteTribute(cmd.Context(), b, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tribute %s deleted.\n", id)
		return nil
	},
}

// deleteTribute soft-deletes through the local database; the hosted
// guestbook is moderated upstream.
func deleteTribute(ctx context.Context, b *backend, id types.TributeID) error {
	local, err := b.local()
	if err != nil {
		return err
	}
	return local.DeleteTribute(ctx, id)
}
