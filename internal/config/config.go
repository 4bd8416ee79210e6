package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrMissingCredentials is returned when a required API credential is not
// present in the environment. Commands treat it as fatal before doing any work.
var ErrMissingCredentials = errors.New("missing credentials")

type Config struct {
	Sources    Sources    `yaml:"sources"`
	Categories []Category `yaml:"categories"`
	Analysis   Analysis   `yaml:"analysis"`
	Assets     Assets     `yaml:"assets"`
	Schedule   Schedule   `yaml:"schedule"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Sources struct {
	Client             string   `yaml:"client"` // "api" or "feed"
	Communities        []string `yaml:"communities"`
	Sort               string   `yaml:"sort"`
	TimeFilter         string   `yaml:"time_filter"`
	SearchLimit        int      `yaml:"search_limit"`
	MaxNewPerTerm      int      `yaml:"max_new_per_term"`
	MaxReplies         int      `yaml:"max_replies"`
	MaxSearchTerms     int      `yaml:"max_search_terms"`
	RequestDelay       Duration `yaml:"request_delay"`
	ClientIDEnv        string   `yaml:"client_id_env"`
	ClientSecretEnv    string   `yaml:"client_secret_env"`
	UserAgent          string   `yaml:"user_agent"`
	FetchLinkedContent bool     `yaml:"fetch_linked_content"`
}

// Category is one entry of the ordered category keyword table.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type Analysis struct {
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	OllamaURL       string   `yaml:"ollama_url"`
	OpenAIModel     string   `yaml:"openai_model"`
	OpenAIKeyEnv    string   `yaml:"openai_key_env"`
	AnthropicModel  string   `yaml:"anthropic_model"`
	AnthropicKeyEnv string   `yaml:"anthropic_key_env"`
	MaxTokens       int      `yaml:"max_tokens"`
	SelectLimit     int      `yaml:"select_limit"`
	CommitEvery     int      `yaml:"commit_every"`
	CallDelay       Duration `yaml:"call_delay"`
	Features        Features `yaml:"features"`
}

// Features switches between the basic and the extended pipeline.
type Features struct {
	// ReplyRoles ranks and groups the replies sent to the model by their
	// stored labels. Collection labels replies either way.
	ReplyRoles        bool `yaml:"reply_roles"`
	ExtendedDiagnosis bool `yaml:"extended_diagnosis"`
}

type Assets struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type Schedule struct {
	Collect string `yaml:"collect"`
	Analyze string `yaml:"analyze"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration that unmarshals from strings like "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ConfigDir returns the XDG config directory for turfwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "turfwatch")
}

// DataDir returns the XDG data directory for turfwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "turfwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/turfwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'turfwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration with every default applied and no file overrides.
func Default() *Config {
	cfg, _ := parse(nil)
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			Client:          "api",
			Communities:     []string{"lawncare", "landscaping", "plantclinic"},
			Sort:            "relevance",
			TimeFilter:      "all",
			SearchLimit:     15,
			MaxNewPerTerm:   10,
			MaxReplies:      25,
			MaxSearchTerms:  30,
			RequestDelay:    Duration{1500 * time.Millisecond},
			ClientIDEnv:     "REDDIT_CLIENT_ID",
			ClientSecretEnv: "REDDIT_CLIENT_SECRET",
			UserAgent:       "turfwatch/1.0",
		},
		Analysis: Analysis{
			Provider:        "openai",
			Model:           "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			OpenAIKeyEnv:    "OPENAI_API_KEY",
			AnthropicModel:  "claude-3-5-haiku-latest",
			AnthropicKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens:       1024,
			SelectLimit:     500,
			CommitEvery:     30,
			CallDelay:       Duration{500 * time.Millisecond},
			Features: Features{
				ReplyRoles:        true,
				ExtendedDiagnosis: true,
			},
		},
		Assets:   Assets{Enabled: true},
		Schedule: Schedule{Collect: "0 */6 * * *", Analyze: "30 * * * *"},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO"},
	}

	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetAssetsDir returns where downloaded images are stored.
func (c *Config) GetAssetsDir() string {
	if c.Assets.Dir != "" {
		return c.Assets.Dir
	}
	return filepath.Join(c.GetDataDir(), "images")
}

// RedditCredentials returns the application credentials for the Reddit API.
func (c *Config) RedditCredentials() (id, secret string, err error) {
	id = os.Getenv(c.Sources.ClientIDEnv)
	secret = os.Getenv(c.Sources.ClientSecretEnv)
	if id == "" || secret == "" {
		return "", "", fmt.Errorf("%w: set %s and %s", ErrMissingCredentials,
			c.Sources.ClientIDEnv, c.Sources.ClientSecretEnv)
	}
	return id, secret, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
