package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/render"
	"github.com/user/memorial/internal/types"
)

var (
	sessionNotebook string
	exportFormat    string
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionExportCmd)
	sessionCmd.PersistentFlags().StringVar(&sessionNotebook, "notebook", "", "notebook id used to resolve citations")
	sessionExportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or yaml")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect chat sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		b, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		local, err := b.local()
		if err != nil {
			return err
		}

		list, err := local.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMESSAGES\tLAST")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.SessionID, s.Turns, s.LastAt)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a conversation with its citations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := loadSession(cmd, types.SessionID(args[0]))
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
			return nil
		}
		term := render.NewTerminal(80)
		for _, m := range msgs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", term.Message(m))
		}
		return nil
	},
}

var sessionExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a conversation as JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := loadSession(cmd, types.SessionID(args[0]))
		if err != nil {
			return err
		}
		return writeExport(cmd.OutOrStdout(), exportFormat, newExport(types.SessionID(args[0]), msgs))
	},
}

func loadSession(cmd *cobra.Command, id types.SessionID) ([]types.NormalizedMessage, error) {
	cfg := loadConfig()
	setupLogging(cfg)
	b, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	// Without a notebook citations resolve against an empty source list.
	notebookID := types.NotebookID(sessionNotebook)
	if notebookID == "" {
		notebookID = types.NotebookID(cfg.NotebookID)
	}
	msgs, _, err := conversation.Load(cmd.Context(), b.Turns, b.Sources, id, notebookID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return msgs, nil
}

type sessionExport struct {
	SessionID types.SessionID `json:"session_id" yaml:"session_id"`
	Messages  []exportMessage `json:"messages" yaml:"messages"`
}

type exportMessage struct {
	ID        int64            `json:"id" yaml:"id"`
	Role      string           `json:"role" yaml:"role"`
	Text      string           `json:"text" yaml:"text"`
	Citations []exportCitation `json:"citations,omitempty" yaml:"citations,omitempty"`
}

type exportCitation struct {
	Marker   string `json:"marker" yaml:"marker"`
	SourceID string `json:"source_id" yaml:"source_id"`
	Title    string `json:"title" yaml:"title"`
	Lines    string `json:"lines,omitempty" yaml:"lines,omitempty"`
	Excerpt  string `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
}

func newExport(id types.SessionID, msgs []types.NormalizedMessage) sessionExport {
	out := sessionExport{SessionID: id, Messages: make([]exportMessage, 0, len(msgs))}
	for _, m := range msgs {
		em := exportMessage{ID: int64(m.ID), Role: string(m.Message.Type)}
		for _, p := range render.Paragraphs(m.Message) {
			if em.Text != "" {
				em.Text += "\n\n"
			}
			for i, line := range p.Lines {
				if i > 0 {
					em.Text += "\n"
				}
				for _, s := range line {
					em.Text += s.Text
				}
			}
		}
		for _, c := range render.Citations(m.Message) {
			ec := exportCitation{
				Marker:   render.MarkerLabel(c),
				SourceID: string(c.SourceID),
				Title:    c.SourceTitle,
				Excerpt:  c.Excerpt,
			}
			if c.ChunkLinesFrom != nil && c.ChunkLinesTo != nil {
				ec.Lines = fmt.Sprintf("%d-%d", *c.ChunkLinesFrom, *c.ChunkLinesTo)
			}
			em.Citations = append(em.Citations, ec)
		}
		out.Messages = append(out.Messages, em)
	}
	return out
}

func writeExport(w io.Writer, format string, v sessionExport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
