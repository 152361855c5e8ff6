package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".clipscribe"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for clipscribe settings.
const envPrefix = "CLIPSCRIBE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("server.url", "")
	viperCfg.SetDefault("server.api_key", "")
	viperCfg.SetDefault("server.timeout", DefaultServerTimeout)

	viperCfg.SetDefault("download.dir", DefaultDownloadDir)
	viperCfg.SetDefault("download.quality", DefaultDownloadQuality)
	viperCfg.SetDefault("download.keep_files", DefaultKeepFiles)
	viperCfg.SetDefault("download.max_file_size", DefaultMaxFileSize)
	viperCfg.SetDefault("download.ytdlp_path", DefaultYTDLPPath)

	viperCfg.SetDefault("upload.chunk_size", DefaultChunkSize)
	viperCfg.SetDefault("upload.max_retries", DefaultMaxRetries)
	viperCfg.SetDefault("upload.concurrency", DefaultConcurrency)
	viperCfg.SetDefault("upload.retry_base_delay", DefaultRetryBaseDelay)
	viperCfg.SetDefault("upload.retry_max_delay", DefaultRetryMaxDelay)

	viperCfg.SetDefault("poll.interval", DefaultPollInterval)
	viperCfg.SetDefault("poll.max_wait", DefaultPollMaxWait)

	viperCfg.SetDefault("session.dir", stateDir(DefaultSessionDir))
	viperCfg.SetDefault("results.dir", stateDir(DefaultResultsDir))

	viperCfg.SetDefault("metrics.addr", "")
}

// stateDir resolves a state subpath against $HOME, falling back to the
// working directory when no home is available.
func stateDir(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return sub
	}

	return filepath.Join(home, sub)
}
