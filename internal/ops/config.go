package ops

import (
	"strings"

	"github.com/spf13/viper"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/executor"
	"main/internal/notify"
	"main/internal/orchestrator"
	"main/internal/risk"
)

// Config is the full runtime configuration, loaded from YAML with
// TRADER_* environment overrides.
type Config struct {
	Source   string              `mapstructure:"source"`
	Broker   broker.Config       `mapstructure:"broker"`
	Risk     risk.Limits         `mapstructure:"risk"`
	Executor executor.Config     `mapstructure:"executor"`
	Pipeline orchestrator.Config `mapstructure:"pipeline"`
	Notify   notify.Config       `mapstructure:"notify"`
	Profile  ProfileConfig       `mapstructure:"profile"`
}

// ProfileConfig enables continuous profiling.
type ProfileConfig struct {
	Enable        bool   `mapstructure:"enable"`
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

// Load reads the config file at path, or searches ./config when path
// is empty. Environment variables override file values, e.g.
// TRADER_BROKER_KIND for broker.kind.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return Config{}, errors.Wrap(err, "read config")
		}
		logs.Warnf("no config file found, using defaults: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if cfg.Source == "" {
		cfg.Source = "chat"
	}
	return cfg, nil
}
