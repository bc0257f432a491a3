// Package config loads the bot configuration.
//
// Sources, later ones winning:
//   - built-in defaults
//   - the TOML file named by UNIVERSALIS_CONFIG, if set
//   - environment variables, after .env in the working directory is loaded
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/subosito/gotenv"

	"github.com/skosovsky/universalis/render"
)

// PathEnv names the environment variable holding the TOML config path.
const PathEnv = "UNIVERSALIS_CONFIG"

// Config is the process configuration.
type Config struct {
	TelegramToken  string  `toml:"telegram_bot_token"`
	AdminID        int64   `toml:"telegram_admin_id"`
	WhitelistedIDs []int64 `toml:"telegram_whitelisted_ids"`
	BotName        string  `toml:"bot_name"`

	DBDir     string `toml:"db_dir"`
	PromptDir string `toml:"prompt_dir"`

	OpenAIKey string `toml:"openai_api_key"`
	ClaudeKey string `toml:"claude_api_key"`
	GeminiKey string `toml:"gemini_api_key"`
	OllamaURL string `toml:"ollama_url"`

	HTTPAddr string `toml:"http_addr"`
	Debug    bool   `toml:"debug"`

	// RateLimit is the sustained number of updates per second allowed per user. Zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		BotName:   "Universalis",
		DBDir:     "data",
		HTTPAddr:  ":8080",
		RateLimit: 1,
		RateBurst: 5,
	}
}

// Load reads .env, the optional TOML file and the environment, then validates the result.
func Load() (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return LoadFrom(os.Getenv(PathEnv), os.LookupEnv)
}

// LoadFrom builds a Config from the TOML file at path (skipped when empty) and the
// variables visible through lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields with the environment variables that are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs ValidateErrors
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	parse := func(key string, set func(string) error) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := set(strings.TrimSpace(v)); err != nil {
			errs = append(errs, ValidationError{Field: key, Message: err.Error()})
		}
	}

	str("TELEGRAM_BOT_TOKEN", &c.TelegramToken)
	str("BOT_NAME", &c.BotName)
	str("DB_DIR", &c.DBDir)
	str("PROMPT_DIR", &c.PromptDir)
	str("OPENAI_API_KEY", &c.OpenAIKey)
	str("CLAUDE_API_KEY", &c.ClaudeKey)
	str("GEMINI_API_KEY", &c.GeminiKey)
	str("OLLAMA_URL", &c.OllamaURL)
	str("HTTP_ADDR", &c.HTTPAddr)

	parse("TELEGRAM_ADMIN_ID", func(v string) (err error) {
		c.AdminID, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("TELEGRAM_WHITELISTED_IDS", func(v string) (err error) {
		c.WhitelistedIDs, err = ParseIDs(v)
		return err
	})
	parse("DEBUG", func(v string) (err error) {
		c.Debug, err = strconv.ParseBool(v)
		return err
	})
	parse("RATE_LIMIT", func(v string) (err error) {
		c.RateLimit, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("RATE_BURST", func(v string) (err error) {
		c.RateBurst, err = strconv.Atoi(v)
		return err
	})
	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errs)
	}
	return nil
}

// ParseIDs parses a comma or space separated list of Telegram user ids.
func ParseIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs ValidateErrors
	if c.TelegramToken == "" {
		errs = append(errs, ValidationError{Field: "telegram_bot_token", Message: "is required"})
	}
	if c.AdminID <= 0 {
		errs = append(errs, ValidationError{Field: "telegram_admin_id", Message: "is required"})
	}
	for _, id := range c.WhitelistedIDs {
		if id <= 0 {
			errs = append(errs, ValidationError{Field: "telegram_whitelisted_ids", Message: fmt.Sprintf("bad user id %d", id)})
		}
	}
	if utf8.RuneCountInString(c.BotName) > render.MaxBotNameRunes {
		errs = append(errs, ValidationError{Field: "bot_name", Message: fmt.Sprintf("must be at most %d characters", render.MaxBotNameRunes)})
	}
	if c.DBDir == "" {
		errs = append(errs, ValidationError{Field: "db_dir", Message: "is required"})
	}
	if c.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "rate_limit", Message: "must not be negative"})
	}
	if c.RateBurst < 1 {
		errs = append(errs, ValidationError{Field: "rate_burst", Message: "must be at least 1"})
	}
	if c.OpenAIKey == "" && c.ClaudeKey == "" && c.GeminiKey == "" && c.OllamaURL == "" {
		errs = append(errs, ValidationError{Field: "providers", Message: "configure at least one of openai_api_key, claude_api_key, gemini_api_key, ollama_url"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Users returns the ids to whitelist at startup: the admin and every configured id.
func (c *Config) Users() []int64 {
	out := []int64{c.AdminID}
	for _, id := range c.WhitelistedIDs {
		if id != c.AdminID {
			out = append(out, id)
		}
	}
	return out
}
