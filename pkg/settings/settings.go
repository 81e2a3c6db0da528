// Package settings loads the client configuration from flags, VEYRA_*
// environment variables and ~/.veyra/config.yaml.
package settings

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/veyra/pkg/attachments"
	"github.com/go-go-golems/veyra/pkg/auth"
)

const (
	EnvPrefix = "veyra"

	DefaultBackendURL     = "http://localhost:8080"
	DefaultModel          = "gpt-4o"
	DefaultRequestTimeout = 2 * time.Minute
	DefaultUploadTimeout  = time.Minute
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

type OpenAISettings struct {
	APIKey  string `yaml:"api-key,omitempty" mapstructure:"api-key"`
	BaseURL string `yaml:"base-url,omitempty" mapstructure:"base-url"`
}

// Enabled is true when completions should go straight to an OpenAI
// compatible API instead of the backend.
func (o OpenAISettings) Enabled() bool {
	return o.APIKey != "" || o.BaseURL != ""
}

type Settings struct {
	BackendURL     string         `yaml:"backend-url" mapstructure:"backend-url"`
	DefaultModel   string         `yaml:"default-model" mapstructure:"default-model"`
	RequestTimeout time.Duration  `yaml:"request-timeout" mapstructure:"request-timeout"`
	UploadTimeout  time.Duration  `yaml:"upload-timeout" mapstructure:"upload-timeout"`
	MaxUploadSize  int64          `yaml:"max-upload-size" mapstructure:"max-upload-size"`
	RateLimit      float64        `yaml:"rate-limit,omitempty" mapstructure:"rate-limit"`
	Theme          Theme          `yaml:"theme" mapstructure:"theme"`
	Token          string         `yaml:"token,omitempty" mapstructure:"token"`
	OpenAI         OpenAISettings `yaml:"openai,omitempty" mapstructure:"openai"`
}

func NewSettings() *Settings {
	return &Settings{
		BackendURL:     DefaultBackendURL,
		DefaultModel:   DefaultModel,
		RequestTimeout: DefaultRequestTimeout,
		UploadTimeout:  DefaultUploadTimeout,
		MaxUploadSize:  attachments.MaxFileSize,
		Theme:          ThemeLight,
	}
}

// Redacted returns a copy with secrets masked, for printing.
func (s *Settings) Redacted() *Settings {
	ret := *s
	ret.Token = redact(s.Token)
	ret.OpenAI.APIKey = redact(s.OpenAI.APIKey)
	return &ret
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8)
}

func (s *Settings) Validate() error {
	if s.BackendURL == "" && !s.OpenAI.Enabled() {
		return errors.New("backend-url must be set")
	}
	if s.BackendURL != "" {
		if err := ValidateBaseURL(s.BackendURL); err != nil {
			return errors.Wrap(err, "backend-url")
		}
	}
	if s.OpenAI.BaseURL != "" {
		if err := ValidateBaseURL(s.OpenAI.BaseURL); err != nil {
			return errors.Wrap(err, "openai-base-url")
		}
	}
	if s.DefaultModel == "" {
		return errors.New("default-model must be set")
	}
	if !s.Theme.Valid() {
		return errors.Errorf("invalid theme %q, expected light or dark", s.Theme)
	}
	if s.RequestTimeout < 0 || s.UploadTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if s.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}
	if s.MaxUploadSize <= 0 || s.MaxUploadSize > attachments.MaxFileSize {
		return errors.Errorf("max-upload-size must be between 1 and %d bytes", attachments.MaxFileSize)
	}
	return nil
}

// TokenSource returns the credential source for the configured token, with
// VEYRA_TOKEN read at call time when none is configured.
func (s *Settings) TokenSource() auth.TokenSource {
	if s.Token != "" {
		return auth.StaticTokenSource(s.Token)
	}
	return auth.EnvTokenSource{Name: auth.DefaultTokenEnv}
}

// AddFlags registers the persistent flags every command shares.
func AddFlags(cmd *cobra.Command) {
	defaults := NewSettings()
	fs := cmd.PersistentFlags()
	fs.String("backend-url", defaults.BackendURL, "Base URL of the chat backend")
	fs.String("default-model", defaults.DefaultModel, "Model used for new conversations")
	fs.Duration("request-timeout", defaults.RequestTimeout, "Timeout of a completion request (0 to disable)")
	fs.Duration("upload-timeout", defaults.UploadTimeout, "Timeout of a file upload (0 to disable)")
	fs.Int64("max-upload-size", defaults.MaxUploadSize, "Maximum size of an uploaded file in bytes")
	fs.Float64("rate-limit", 0, "Maximum backend requests per second (0 for no limit)")
	fs.String("theme", string(defaults.Theme), "Theme (light, dark)")
	fs.String("token", "", "Bearer token (default: $VEYRA_TOKEN)")
	fs.String("openai-api-key", "", "Call an OpenAI compatible API directly with this key")
	fs.String("openai-base-url", "", "Base URL of the OpenAI compatible API")
}

// NewViper prepares a viper instance reading VEYRA_* variables and, unless
// configPath is given, config.yaml from the usual locations. A missing
// config file is not an error.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.veyra")
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdgConfigPath, "veyra"))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return v, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Msg("loaded configuration")
	return v, nil
}

// BindFlags makes the flags of cmd override file and environment values.
// The openai-* flags map onto the nested openai section.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	fs := cmd.Flags()
	for _, name := range []string{
		"backend-url", "default-model", "request-timeout", "upload-timeout",
		"max-upload-size", "rate-limit", "theme", "token",
	} {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(name, f); err != nil {
				return err
			}
		}
	}
	for flag, key := range map[string]string{
		"openai-api-key":  "openai.api-key",
		"openai-base-url": "openai.base-url",
	} {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load builds the settings from v on top of the defaults and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	s := NewSettings()
	setDefaults(v, s)
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	s.Theme = Theme(strings.ToLower(string(s.Theme)))
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// AutomaticEnv only applies to keys viper knows about, registering the
// defaults makes VEYRA_* variables visible to Unmarshal.
func setDefaults(v *viper.Viper, s *Settings) {
	v.SetDefault("backend-url", s.BackendURL)
	v.SetDefault("default-model", s.DefaultModel)
	v.SetDefault("request-timeout", s.RequestTimeout)
	v.SetDefault("upload-timeout", s.UploadTimeout)
	v.SetDefault("max-upload-size", s.MaxUploadSize)
	v.SetDefault("rate-limit", s.RateLimit)
	v.SetDefault("theme", string(s.Theme))
	v.SetDefault("token", "")
	v.SetDefault("openai.api-key", "")
	v.SetDefault("openai.base-url", "")
}
