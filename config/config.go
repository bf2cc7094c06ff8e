package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DBUrl       string
	TokenSecret string
	TokenTTL    time.Duration
	Debug       bool

	AI AIConfig

	ExtractWorkers int
	SessionTTL     time.Duration
}

type AIConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTurns    int
	PromptsFile string
}

func ParseFlags() (Config, error) {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) (cfg Config, err error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	var host string
	fs.StringVar(&host, "host", "0.0.0.0", "listen host name")
	var port uint
	fs.UintVar(&port, "port", 80, "listen port number")
	fs.StringVar(&cfg.DBUrl, "db-url", "intelliform.sqlite", "path to SQLite3 DB file")
	fs.StringVar(&cfg.TokenSecret, "token-secret", os.Getenv("TOKEN_SECRET"), "secret key for token encryption and decryption")
	var ttl uint
	fs.UintVar(&ttl, "token-ttl", 120, "token TTL in seconds")
	fs.BoolVar(&cfg.Debug, "debug", false, "log at DEBUG level")

	fs.StringVar(&cfg.AI.APIKey, "ai-key", os.Getenv("GEMINI_API_KEY"), "API key of the LLM provider")
	fs.StringVar(&cfg.AI.Model, "ai-model", envOr("AI_MODEL", "gemini-2.0-flash"), "LLM model name")
	fs.DurationVar(&cfg.AI.Timeout, "ai-timeout", 30*time.Second, "timeout of a single LLM call")
	fs.IntVar(&cfg.AI.MaxTurns, "ai-max-turns", 10, "max respondent messages in one AI sub-conversation")
	fs.StringVar(&cfg.AI.PromptsFile, "ai-prompts", os.Getenv("AI_PROMPTS"), "optional YAML file overriding prompt templates")

	fs.IntVar(&cfg.ExtractWorkers, "extract-workers", 4, "concurrent problem extractions in a batch")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", 2*time.Hour, "idle conversational session expiry")

	if err = fs.Parse(args); err != nil {
		return
	}

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.TokenTTL = time.Duration(ttl) * time.Second

	switch {
	case cfg.TokenSecret == "":
		err = errors.New("missing parameter -token-secret")
	case cfg.AI.APIKey == "":
		err = errors.New("missing parameter -ai-key (or GEMINI_API_KEY)")
	case cfg.AI.MaxTurns < 1:
		err = errors.New("-ai-max-turns must be at least 1")
	case cfg.ExtractWorkers < 1:
		err = errors.New("-extract-workers must be at least 1")
	}

	return
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}
