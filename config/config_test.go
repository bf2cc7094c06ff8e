package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test", flag.ContinueOnError)
}

func TestParse(t *testing.T) {
	t.Run("defaults and derived values", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("TOKEN_SECRET", "")

		cfg, err := parse(newFlagSet(), []string{"-token-secret", "s", "-port", "8080", "-token-ttl", "60"})
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
		assert.Equal(t, "http://localhost:8080", cfg.Url())
		assert.Equal(t, time.Minute, cfg.TokenTTL)
		assert.Equal(t, "k", cfg.AI.APIKey)
		assert.Equal(t, 10, cfg.AI.MaxTurns)
		assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
		assert.Equal(t, 4, cfg.ExtractWorkers)
	})

	t.Run("missing token secret", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("TOKEN_SECRET", "")

		_, err := parse(newFlagSet(), nil)
		assert.EqualError(t, err, "missing parameter -token-secret")
	})

	t.Run("missing ai key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")

		_, err := parse(newFlagSet(), []string{"-token-secret", "s"})
		assert.ErrorContains(t, err, "-ai-key")
	})

	t.Run("turn cap must be positive", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "k")

		_, err := parse(newFlagSet(), []string{"-token-secret", "s", "-ai-max-turns", "0"})
		assert.Error(t, err)
	})
}

func TestLoadPrompts(t *testing.T) {
	t.Run("no file keeps defaults", func(t *testing.T) {
		p, err := LoadPrompts("")
		require.NoError(t, err)
		assert.Equal(t, Prompts{}, p)
	})

	t.Run("overrides from yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.yaml")
		require.NoError(t, os.WriteFile(path, []byte("summarize: \"Sum up: {{.Transcript}}\"\n"), 0o644))

		p, err := LoadPrompts(path)
		require.NoError(t, err)
		assert.Equal(t, "Sum up: {{.Transcript}}", p.Summarize)
		assert.Empty(t, p.Rank)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sumarize: typo\n"), 0o644))

		_, err := LoadPrompts(path)
		assert.Error(t, err)
	})
}
