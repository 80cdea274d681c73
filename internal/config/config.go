// Package config resolves client settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DefaultModel matches the backend's preferred default.
const DefaultModel = "openai/gpt-oss-120b"

// DefaultSystemPrompt seeds the conversation history of every new session
// unless overridden per session or via REGINE_SYSTEM_PROMPT.
const DefaultSystemPrompt = `You are a helpful assistant named Régine that provides clear and concise answers.

Answer **directly**, give only the information the user asked for. When you are unsure, say so. You generate your responses in markdown format but not excessively: only when in need to do bulleted lists or separate sections if asked.

You follow instructions closely and respond accurately to a given prompt. You emphasize precise instruction-following and accuracy over speed of response: take your time to understand a question. Focus on accuracy in your response and follow the instructions precisely. At the same time, keep your answers brief and concise unless asked otherwise.

Keep the tone professional and neutral and to the point.`

// Config is the resolved client configuration.
type Config struct {
	APIURL       string
	UserID       string
	Model        string
	SystemPrompt string
	DataDir      string
}

// Load reads a .env file when present, then the environment. Missing
// values fall back to defaults; only the API URL is required, which the
// commands validate at the point of use.
func Load() (*Config, error) {
	// A missing .env is not an error; the environment still applies.
	_ = godotenv.Load()

	cfg := &Config{
		APIURL:       os.Getenv("REGINE_API_URL"),
		UserID:       envOr("REGINE_USER_ID", "Guest"),
		Model:        envOr("REGINE_MODEL", DefaultModel),
		SystemPrompt: envOr("REGINE_SYSTEM_PROMPT", DefaultSystemPrompt),
		DataDir:      os.Getenv("REGINE_DATA_DIR"),
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = filepath.Join(home, ".regine")
	}

	return cfg, nil
}

// LogPath is where the rotating application log lives.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "regine.log")
}

// HistoryPath is the JSONL exchange archive queried by the history command.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history", "exchanges.jsonl")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
