package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/memorial/internal/config"
	"github.com/user/memorial/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		p := &prompter{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}

		fmt.Fprintln(p.out, "Memorial Setup Wizard")
		fmt.Fprintln(p.out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(p.out)

		cfg.Backend.Driver = p.ask("Backend (sqlite or supabase)", cfg.Backend.Driver)
		if cfg.Backend.Driver == config.DriverSupabase {
			cfg.Backend.Supabase.URL = p.ask("Supabase project URL", cfg.Backend.Supabase.URL)
			cfg.Backend.Supabase.AnonKey = p.ask("Supabase anon key", cfg.Backend.Supabase.AnonKey)
			cfg.Backend.Supabase.ServiceKey = p.ask("Supabase service role key (optional)", cfg.Backend.Supabase.ServiceKey)
		} else {
			cfg.Answer.WebhookURL = p.ask("Answer webhook URL", cfg.Answer.WebhookURL)
		}
		cfg.NotebookID = p.ask("Notebook id", cfg.NotebookID)
		cfg.Telegram.Token = p.ask("Telegram bot token (optional)", cfg.Telegram.Token)
		for {
			cfg.Retention.Schedule = p.ask("Chat history retention schedule (optional, e.g. @daily)", cfg.Retention.Schedule)
			err := scheduler.Validate(cfg.Retention.Schedule)
			if err == nil {
				break
			}
			fmt.Fprintln(p.out, err)
			cfg.Retention.Schedule = ""
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Configuration saved to", cfgPath)
		return nil
	},
}

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// ask displays a labeled prompt and returns the input, or defaultVal when
// the input is empty.
func (p *prompter) ask(label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	if p.in.Scan() {
		if input := strings.TrimSpace(p.in.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
