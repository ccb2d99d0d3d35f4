// Package config loads the memorial JSON configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
)

// Duration is a time.Duration stored as a string such as "30s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	DataDir    string `json:"data_dir"`
	LogLevel   string `json:"log_level"`
	NotebookID string `json:"notebook_id"`
	Backend    struct {
		Driver     string `json:"driver"`
		SQLitePath string `json:"sqlite_path"`
		Supabase   struct {
			URL        string `json:"url"`
			AnonKey    string `json:"anon_key"`
			ServiceKey string `json:"service_key"`
		} `json:"supabase"`
	} `json:"backend"`
	Chat struct {
		UserID            string     `json:"user_id"`
		RefetchDelays     []Duration `json:"refetch_delays"`
		AnswerTimeout     Duration   `json:"answer_timeout"`
		MaxQuestionTokens int        `json:"max_question_tokens"`
		TokenizerModel    string     `json:"tokenizer_model"`
	} `json:"chat"`
	Answer struct {
		WebhookURL    string   `json:"webhook_url"`
		MaxConcurrent int      `json:"max_concurrent"`
		Timeout       Duration `json:"timeout"`
	} `json:"answer"`
	HTTP struct {
		Enabled      bool    `json:"enabled"`
		Listen       string  `json:"listen"`
		TributeRate  float64 `json:"tribute_rate"`
		TributeBurst int     `json:"tribute_burst"`
		IngestKey    string  `json:"ingest_key"`
	} `json:"http"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Retention struct {
		Schedule string   `json:"schedule"`
		MaxAge   Duration `json:"max_age"`
	} `json:"retention"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".memorial"),
		LogLevel: "info",
	}
	cfg.Backend.Driver = DriverSQLite
	cfg.Chat.UserID = "public-user"
	cfg.Chat.RefetchDelays = []Duration{Duration(2 * time.Second), Duration(5 * time.Second), Duration(10 * time.Second)}
	cfg.Chat.AnswerTimeout = Duration(30 * time.Second)
	cfg.Chat.MaxQuestionTokens = 2000
	cfg.Chat.TokenizerModel = "gpt-4o-mini"
	cfg.Answer.MaxConcurrent = 2
	cfg.Answer.Timeout = Duration(2 * time.Minute)
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.HTTP.TributeRate = 0.2
	cfg.HTTP.TributeBurst = 5
	cfg.Retention.MaxAge = Duration(90 * 24 * time.Hour)
	return cfg
}

// Load reads path over the defaults, writing the defaults when the file
// does not exist yet. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Backend.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		cfg.Backend.Supabase.AnonKey = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); v != "" {
		cfg.Backend.Supabase.ServiceKey = v
	}
	if v := os.Getenv("ANSWER_WEBHOOK_URL"); v != "" {
		cfg.Answer.WebhookURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("MEMORIAL_NOTEBOOK_ID"); v != "" {
		cfg.NotebookID = v
	}
}

// SQLitePath is the local database file, defaulting into the data dir.
func (c *Config) SQLitePath() string {
	if c.Backend.SQLitePath != "" {
		return c.Backend.SQLitePath
	}
	return filepath.Join(c.DataDir, "memorial.db")
}

// RefetchDelays converts the configured delays.
func (c *Config) RefetchDelays() []time.Duration {
	out := make([]time.Duration, len(c.Chat.RefetchDelays))
	for i, d := range c.Chat.RefetchDelays {
		out[i] = d.Std()
	}
	return out
}

// Validate reports every setting that prevents startup.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend.Driver {
	case DriverSQLite:
	case DriverSupabase:
		if c.Backend.Supabase.URL == "" {
			errs = append(errs, errors.New("backend.supabase.url is required for the supabase driver"))
		}
		if c.Backend.Supabase.AnonKey == "" {
			errs = append(errs, errors.New("backend.supabase.anon_key is required for the supabase driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.driver must be %q or %q, got %q", DriverSQLite, DriverSupabase, c.Backend.Driver))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	for i, d := range c.Chat.RefetchDelays {
		if d < 0 {
			errs = append(errs, fmt.Errorf("chat.refetch_delays[%d] is negative", i))
		}
	}
	if c.Chat.MaxQuestionTokens < 0 {
		errs = append(errs, errors.New("chat.max_question_tokens must not be negative"))
	}
	return errors.Join(errs...)
}

// Save writes cfg atomically through a temp file and rename.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
