package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/functions"
	"github.com/user/memorial/internal/scheduler"
	"github.com/user/memorial/internal/server"
	"github.com/user/memorial/internal/telegram"
	"github.com/user/memorial/internal/types"
)

const pidFile = "memorial.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memorial daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer b.startGateway(ctx)()
	conversations := b.conversations(cfg)

	slog.Info("memorial started",
		"data_dir", cfg.DataDir,
		"driver", cfg.Backend.Driver,
		"notebook_id", cfg.NotebookID,
		"pid_file", pidPath,
	)

	// Retention only applies to the local store.
	var jobs []scheduler.Job
	if local, err := b.local(); err == nil {
		jobs = append(jobs, scheduler.Retention(local, cfg.Retention.Schedule, cfg.Retention.MaxAge.Std()))
	}
	sched := scheduler.New(jobs...)
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Telegram.Token != "" && cfg.NotebookID != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, telegram.Deps{
			Conversations:  conversations,
			Sources:        b.Sources,
			Sessions:       b.Local,
			NotebookID:     types.NotebookID(cfg.NotebookID),
			SessionOptions: sessionOptions(cfg),
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
	} else {
		slog.Warn("telegram bridge disabled (needs telegram.token and notebook_id)")
	}

	if cfg.HTTP.Enabled {
		httpServer := newHTTPServer(cfg.HTTP.Listen, serverBackend(b, conversations, cfg.Chat.UserID), server.Config{
			NotebookID:   types.NotebookID(cfg.NotebookID),
			UserID:       cfg.Chat.UserID,
			TributeRate:  rate.Limit(cfg.HTTP.TributeRate),
			TributeBurst: cfg.HTTP.TributeBurst,
			IngestKey:    ingestKey(b, cfg.HTTP.IngestKey),
		})
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}

func newHTTPServer(addr string, backend server.Backend, cfg server.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           server.New(backend, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serverBackend mounts the local function registry only when questions are
// answered locally; the hosted project serves its own functions.
func serverBackend(b *backend, conversations *conversation.Store, userID string) server.Backend {
	sb := server.Backend{
		Turns:         b.Turns,
		Sources:       b.Sources,
		Tributes:      b.Tributes,
		Answerer:      b.Answerer,
		Conversations: conversations,
	}
	if b.Gateway != nil {
		reg := functions.NewRegistry()
		reg.Register(functions.SendChatMessageName, functions.SendChatMessage(b.Gateway, userID))
		sb.Functions = reg
	}
	return sb
}

func ingestKey(b *backend, key string) string {
	if b.hosted {
		return ""
	}
	return key
}
