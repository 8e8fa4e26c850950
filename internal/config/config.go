// Package config loads the process configuration from the environment and the
// chain catalog from a JSON file.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/gabapcia/walletflow/internal/chainregistry"
)

// envPrefix namespaces every environment variable, e.g. WALLETFLOW_LOG_LEVEL.
const envPrefix = "walletflow"

// Config is the full process configuration.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"walletflow"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// ChainsFile points at the JSON chain catalog loaded on startup.
	ChainsFile string `envconfig:"CHAINS_FILE" default:"chains.json"`

	// SignerAddresses are the addresses the development signer will sign
	// for. Empty means every account is watch-only.
	SignerAddresses []string `envconfig:"SIGNER_ADDRESSES"`

	SubmitTimeout    time.Duration `envconfig:"SUBMIT_TIMEOUT" default:"5m"`
	HealthInterval   time.Duration `envconfig:"HEALTH_INTERVAL" default:"30s"`
	RecoveryInterval time.Duration `envconfig:"RECOVERY_INTERVAL" default:"1m"`
	BalanceCacheTTL  time.Duration `envconfig:"BALANCE_CACHE_TTL" default:"30s"`

	Redis RedisConfig
}

// RedisConfig holds the connection settings of the history store and balance
// cache.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Username string `envconfig:"REDIS_USERNAME"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadChains parses the chain catalog file. Descriptor validation happens
// when the catalog enters the registry.
func LoadChains(path string) ([]chainregistry.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var chains []chainregistry.Chain
	if err := json.Unmarshal(data, &chains); err != nil {
		return nil, err
	}
	return chains, nil
}
