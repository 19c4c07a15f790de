package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/ruminate/pkg/backend/ollama"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/go-go-golems/ruminate/pkg/redisstream"
	"github.com/go-go-golems/ruminate/pkg/webchat"
)

const EnvPrefix = "RUMINATE"

type OllamaSettings struct {
	BaseURL string        `mapstructure:"base-url" yaml:"base-url"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LedgerSettings struct {
	// Path of the sqlite run ledger. Empty disables the ledger.
	Path string `mapstructure:"path" yaml:"path"`
}

type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`
}

type TokenSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Encoding string `mapstructure:"encoding" yaml:"encoding"`
}

// Settings is the full ruminate configuration.
type Settings struct {
	Reasoning reasoning.Config     `mapstructure:"reasoning" yaml:"reasoning"`
	Ollama    OllamaSettings       `mapstructure:"ollama" yaml:"ollama"`
	Redis     redisstream.Settings `mapstructure:"redis" yaml:"redis"`
	Server    webchat.Settings     `mapstructure:"server" yaml:"server"`
	Ledger    LedgerSettings       `mapstructure:"ledger" yaml:"ledger"`
	Tokens    TokenSettings        `mapstructure:"tokens" yaml:"tokens"`
	Log       LogSettings          `mapstructure:"log" yaml:"log"`
}

// SetDefaults registers every key so environment variables resolve through
// AutomaticEnv even when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	rc := reasoning.DefaultConfig()
	v.SetDefault("reasoning.total-steps", rc.TotalSteps)
	v.SetDefault("reasoning.step-max-tokens", rc.StepMaxTokens)
	v.SetDefault("reasoning.evaluation-max-tokens", rc.EvaluationMaxTokens)
	v.SetDefault("reasoning.satisfaction-threshold", rc.SatisfactionThreshold)
	v.SetDefault("reasoning.inter-step-pause", rc.InterStepPause)
	v.SetDefault("reasoning.temperature", rc.Temperature)
	v.SetDefault("reasoning.system-prompt", rc.SystemPrompt)

	v.SetDefault("ollama.base-url", ollama.DefaultBaseURL)
	v.SetDefault("ollama.model", ollama.DefaultModel)
	v.SetDefault("ollama.timeout", ollama.DefaultTimeout)

	rs := redisstream.DefaultSettings()
	v.SetDefault("redis.enabled", rs.Enabled)
	v.SetDefault("redis.addr", rs.Addr)
	v.SetDefault("redis.password", rs.Password)
	v.SetDefault("redis.db", rs.DB)
	v.SetDefault("redis.topic", rs.Topic)
	v.SetDefault("redis.group", rs.Group)
	v.SetDefault("redis.consumer", rs.Consumer)

	ws := webchat.DefaultSettings()
	v.SetDefault("server.addr", ws.Addr)
	v.SetDefault("server.idle-timeout", ws.IdleTimeout)
	v.SetDefault("server.shutdown-timeout", ws.ShutdownTimeout)

	v.SetDefault("ledger.path", "")

	v.SetDefault("tokens.enabled", true)
	v.SetDefault("tokens.encoding", "cl100k_base")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.with-caller", false)
}

// Load layers defaults, the config file, .env and RUMINATE_* environment variables
// (and whatever flags the caller bound on v) into Settings.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "ruminate"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := s.Reasoning.Sanitized().Validate(); err != nil {
		return nil, errors.Wrap(err, "reasoning config")
	}
	return &s, nil
}
