// Package config loads the companion configuration: backend profiles,
// conversation limits, chat output settings and the persona.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/companion/internal/llm"
	. "github.com/roelfdiedericks/companion/internal/logging"
	"github.com/roelfdiedericks/companion/internal/prompt"
)

var (
	// ErrNoProfiles is returned when a config defines no backend profiles.
	ErrNoProfiles = errors.New("config: no profiles configured")
	// ErrUnsupportedFormat is returned for config files that are not JSON,
	// TOML or YAML.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "companion.json"

// Config represents the complete companion configuration
type Config struct {
	Profiles           []llm.Profile      `json:"profiles" toml:"profiles" yaml:"profiles"`
	DefaultProfile     string             `json:"defaultProfile,omitempty" toml:"defaultProfile" yaml:"defaultProfile,omitempty"`
	ThinkingProfile    string             `json:"thinkingProfile,omitempty" toml:"thinkingProfile" yaml:"thinkingProfile,omitempty"`
	LightweightProfile string             `json:"lightweightProfile,omitempty" toml:"lightweightProfile" yaml:"lightweightProfile,omitempty"`
	Conversation       ConversationConfig `json:"conversation" toml:"conversation" yaml:"conversation"`
	Chat               ChatConfig         `json:"chat" toml:"chat" yaml:"chat"`
	Persona            PersonaConfig      `json:"persona" toml:"persona" yaml:"persona"`
	Aliases            []prompt.Alias     `json:"aliases,omitempty" toml:"aliases" yaml:"aliases,omitempty"`
	Greeting           GreetingConfig     `json:"greeting" toml:"greeting" yaml:"greeting"`
	Logging            LoggingConfig      `json:"logging" toml:"logging" yaml:"logging"`
}

// ConversationConfig bounds the in-memory histories.
type ConversationConfig struct {
	Capacity     int `json:"capacity,omitempty" toml:"capacity" yaml:"capacity,omitempty"`             // partners kept
	HistoryLimit int `json:"historyLimit,omitempty" toml:"historyLimit" yaml:"historyLimit,omitempty"` // exchanges per partner; 0 = unlimited
}

// ChatConfig controls request options and how replies are shaped for output.
type ChatConfig struct {
	RemoveLineBreaks bool     `json:"removeLineBreaks,omitempty" toml:"removeLineBreaks" yaml:"removeLineBreaks,omitempty"`
	MaxChunkBytes    int      `json:"maxChunkBytes,omitempty" toml:"maxChunkBytes" yaml:"maxChunkBytes,omitempty"`
	MaxChunkChars    int      `json:"maxChunkChars,omitempty" toml:"maxChunkChars" yaml:"maxChunkChars,omitempty"`
	MaxTokens        int      `json:"maxTokens,omitempty" toml:"maxTokens" yaml:"maxTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty" toml:"temperature" yaml:"temperature,omitempty"`
	ThinkingBudget   *int     `json:"thinkingBudget,omitempty" toml:"thinkingBudget" yaml:"thinkingBudget,omitempty"`
	ShowThoughts     bool     `json:"showThoughts,omitempty" toml:"showThoughts" yaml:"showThoughts,omitempty"`
	AcceptPartial    bool     `json:"acceptPartial,omitempty" toml:"acceptPartial" yaml:"acceptPartial,omitempty"`
	Cooldowns        bool     `json:"cooldowns,omitempty" toml:"cooldowns" yaml:"cooldowns,omitempty"`
}

// PersonaConfig names the persona and how the primary user is addressed.
// Text wins over File when both are set.
type PersonaConfig struct {
	File       string                `json:"file,omitempty" toml:"file" yaml:"file,omitempty"`
	Text       string                `json:"text,omitempty" toml:"text" yaml:"text,omitempty"`
	Name       string                `json:"name,omitempty" toml:"name" yaml:"name,omitempty"`
	Addressing prompt.AddressingMode `json:"addressing,omitempty" toml:"addressing" yaml:"addressing,omitempty"`
	RealName   string                `json:"realName,omitempty" toml:"realName" yaml:"realName,omitempty"`
	Alias      string                `json:"alias,omitempty" toml:"alias" yaml:"alias,omitempty"`
}

// GreetingConfig schedules unprompted greetings. An empty Schedule disables
// them.
type GreetingConfig struct {
	Schedule string `json:"schedule,omitempty" toml:"schedule" yaml:"schedule,omitempty"` // 5-field cron expression
	Partner  string `json:"partner,omitempty" toml:"partner" yaml:"partner,omitempty"`
	Text     string `json:"text,omitempty" toml:"text" yaml:"text,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" toml:"level" yaml:"level,omitempty"`
	Caller bool   `json:"caller,omitempty" toml:"caller" yaml:"caller,omitempty"`
}

// Defaults returns the values used for every field a file leaves empty.
func Defaults() Config {
	return Config{
		Conversation: ConversationConfig{
			Capacity:     10,
			HistoryLimit: 20,
		},
		Chat: ChatConfig{
			MaxChunkChars: 400,
		},
		Persona: PersonaConfig{
			Addressing: prompt.AddressRealName,
		},
		Greeting: GreetingConfig{
			Partner: "default",
			Text:    "Greet me briefly and warmly, as if we just met up again.",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config at path. The format follows the extension: .json,
// .toml, .yaml or .yml. Defaults are merged into empty fields, ${VAR}
// references in profile keys and URLs are expanded, and the result is
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if cfg.Persona.File != "" && !filepath.IsAbs(cfg.Persona.File) {
		cfg.Persona.File = filepath.Join(filepath.Dir(path), cfg.Persona.File)
	}

	L_debug("config: loaded", "path", path, "profiles", len(cfg.Profiles))
	return cfg, nil
}

// Parse decodes data in the format named by ext and applies defaults,
// environment expansion and validation.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	if err := decode(data, ext, &cfg); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}
	cfg.expandEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".json", "":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandString replaces ${VAR} with the environment value. Unset variables
// expand to the empty string. A bare $ is left alone; API keys may contain one.
func expandString(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			L_warn("config: environment variable not set", "name", name)
		}
		return v
	})
}

func (c *Config) expandEnv() {
	for i := range c.Profiles {
		c.Profiles[i].APIKey = expandString(c.Profiles[i].APIKey)
		c.Profiles[i].BaseURL = expandString(c.Profiles[i].BaseURL)
	}
}

// Validate checks the profile list: at least one profile, unique names,
// known kinds, and designated profiles that exist.
func (c *Config) Validate() error {
	if len(c.Profiles) == 0 {
		return ErrNoProfiles
	}

	known := make(map[llm.Kind]bool, len(llm.Kinds))
	for _, k := range llm.Kinds {
		known[k] = true
	}

	seen := make(map[string]bool, len(c.Profiles))
	var errs []error
	for i, p := range c.Profiles {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("profile %d: name is required", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("profile %q: duplicate name", p.Name))
		}
		seen[p.Name] = true
		if !known[p.Kind] {
			errs = append(errs, fmt.Errorf("profile %q: %w: %q", p.Name, llm.ErrUnknownKind, p.Kind))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("profile %q: model is required", p.Name))
		}
	}

	for field, name := range map[string]string{
		"defaultProfile":     c.DefaultProfile,
		"thinkingProfile":    c.ThinkingProfile,
		"lightweightProfile": c.LightweightProfile,
	} {
		if name != "" && !seen[name] {
			errs = append(errs, fmt.Errorf("%s: no profile named %q", field, name))
		}
	}

	if c.Persona.Addressing != "" && c.Persona.Addressing != prompt.AddressRealName && c.Persona.Addressing != prompt.AddressAlias {
		errs = append(errs, fmt.Errorf("persona.addressing: unknown mode %q", c.Persona.Addressing))
	}
	return errors.Join(errs...)
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (llm.Profile, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return llm.Profile{}, false
}

// RegistryConfig maps the profile section onto the registry's settings.
func (c *Config) RegistryConfig() llm.RegistryConfig {
	return llm.RegistryConfig{
		Profiles:           c.Profiles,
		DefaultProfile:     c.DefaultProfile,
		ThinkingProfile:    c.ThinkingProfile,
		LightweightProfile: c.LightweightProfile,
		AcceptPartial:      c.Chat.AcceptPartial,
		Cooldowns:          c.Chat.Cooldowns,
	}
}

// AliasTable builds the alias expansion table.
func (c *Config) AliasTable() *prompt.AliasTable {
	return prompt.NewAliasTable(c.Aliases)
}

// Addressing returns the configured addressing for the primary user.
func (c *Config) Addressing() prompt.Addressing {
	return prompt.Addressing{
		Mode:     c.Persona.Addressing,
		RealName: c.Persona.RealName,
		Alias:    c.Persona.Alias,
	}
}

// LogConfig maps the logging section onto the logger's settings.
func (c *Config) LogConfig() *LogConfig {
	lc := DefaultLogConfig()
	lc.Level = ParseLevel(c.Logging.Level)
	lc.ShowCaller = c.Logging.Caller
	return lc
}
