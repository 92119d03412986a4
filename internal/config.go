package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/promotion"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Embedding providers.
const (
	ProviderLocal  = "local"
	ProviderRemote = "remote"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Log       LogConfig         `yaml:"log"`
	Store     StoreConfig       `yaml:"store"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Compile   CompileConfig     `yaml:"compile"`
	Promotion PromotionConfig   `yaml:"promotion"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if err := c.Compile.Validate(); err != nil {
		return err
	}
	if err := c.Promotion.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LogConfig holds the canonical log directory and parse behavior.
type LogConfig struct {
	StateDir          string `yaml:"state_dir"`
	TimestampFallback string `yaml:"timestamp_fallback"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	if c.TimestampFallback == "" {
		c.TimestampFallback = canonlog.FallbackIngest
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.StateDir, validation.Required),
		validation.Field(&c.TimestampFallback,
			validation.In(canonlog.FallbackIngest, canonlog.FallbackReject)),
	)
}

// StoreConfig holds the SQLite vector store location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// EmbeddingConfig selects and configures the embedding provider.
//
// Provider controls where vectors come from:
//   - "local" (default): deterministic in-process embeddings, no network.
//   - "remote": OpenAI-compatible /embeddings endpoint; APIKey required.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Dims           int    `yaml:"dims"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderLocal, ProviderRemote)),
		validation.Field(&c.Dims, validation.Min(0)),
		validation.Field(&c.TimeoutSeconds, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Provider == ProviderRemote && c.APIKey == "" {
		return fmt.Errorf("embedding: provider is %q but api_key is empty", ProviderRemote)
	}
	return nil
}

// Timeout returns the remote provider request timeout.
func (c *EmbeddingConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CompileConfig holds context compilation defaults.
type CompileConfig struct {
	TokenBudget  int     `yaml:"token_budget"`
	TopK         int     `yaml:"top_k"`
	StrictEntity bool    `yaml:"strict_entity"`
	RecencyDays  int     `yaml:"recency_days"`
	RecencyBoost float64 `yaml:"recency_boost"`
}

// Validate validates the compile configuration.
func (c *CompileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TokenBudget, validation.Required, validation.Min(1)),
		validation.Field(&c.TopK, validation.Required, validation.Min(1)),
		validation.Field(&c.RecencyDays, validation.Min(0)),
		validation.Field(&c.RecencyBoost, validation.Min(1.0)),
	)
}

// PromotionConfig holds promotion gate parameters.
type PromotionConfig struct {
	MaxDepth  int     `yaml:"max_depth"`
	Threshold float64 `yaml:"threshold"`
	DecayK    float64 `yaml:"decay_k"`
	Policy    string  `yaml:"policy"`
}

// Validate validates the promotion configuration.
func (c *PromotionConfig) Validate() error {
	if c.Policy == "" {
		c.Policy = promotion.PolicySigmoid
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxDepth, validation.Required, validation.Min(1)),
		validation.Field(&c.Threshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.DecayK, validation.Min(0.0)),
		validation.Field(&c.Policy, validation.In(promotion.PolicySigmoid, promotion.PolicyLinear)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Log: LogConfig{
			StateDir:          "./state",
			TimestampFallback: canonlog.FallbackIngest,
		},
		Store: StoreConfig{
			Path: "./mnemon.db",
		},
		Embedding: EmbeddingConfig{
			Provider:       ProviderLocal,
			TimeoutSeconds: 30,
		},
		Compile: CompileConfig{
			TokenBudget:  2000,
			TopK:         20,
			StrictEntity: true,
			RecencyDays:  30,
			RecencyBoost: 1.2,
		},
		Promotion: PromotionConfig{
			MaxDepth:  3,
			Threshold: 0.3,
			DecayK:    2.0,
			Policy:    promotion.PolicySigmoid,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
