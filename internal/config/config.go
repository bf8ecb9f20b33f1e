// Package config loads coordinator configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full coordinator configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Chain    ChainConfig    `yaml:"chain"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Shuffle  ShuffleConfig  `yaml:"shuffle"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

// LoggingConfig mirrors the logger setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig selects the store. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ChainConfig points at the settlement node and contract. An empty RPC URL
// disables settlement and UTXO verification; rooms then fail at finalize.
type ChainConfig struct {
	RPCURL      string        `yaml:"rpc_url"`
	Contract    string        `yaml:"contract"`
	Coordinator string        `yaml:"coordinator_address"`
	Timeout     time.Duration `yaml:"timeout"`
	VerifyUTXOs bool          `yaml:"verify_utxos"`
}

// TokensConfig configures round credential signing.
type TokensConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// ShuffleConfig tunes matching and the round state machine.
type ShuffleConfig struct {
	MinRoomSize      int           `yaml:"min_room_size"`
	RoundDeadline    time.Duration `yaml:"round_deadline"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	FinalizeAttempts int           `yaml:"finalize_attempts"`
	FinalizeBackoff  time.Duration `yaml:"finalize_backoff"`
}

// EngineConfig points at the round engine service.
type EngineConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerSecond: 50,
			Burst:             100,
			AllowedOrigins:    []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Chain: ChainConfig{
			Timeout: 30 * time.Second,
		},
		Tokens: TokensConfig{
			TTL: 24 * time.Hour,
		},
		Shuffle: ShuffleConfig{
			MinRoomSize:      3,
			RoundDeadline:    2 * time.Minute,
			SweepInterval:    5 * time.Second,
			FinalizeAttempts: 3,
			FinalizeBackoff:  2 * time.Second,
		},
		Engine: EngineConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads the config file when path is non-empty, applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COORDINATOR_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("COORDINATOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COORDINATOR_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("COORDINATOR_CHAIN_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("COORDINATOR_CONTRACT"); v != "" {
		c.Chain.Contract = v
	}
	if v := os.Getenv("COORDINATOR_ADDRESS"); v != "" {
		c.Chain.Coordinator = v
	}
	if v := os.Getenv("COORDINATOR_TOKEN_SECRET"); v != "" {
		c.Tokens.Secret = v
	}
	if v := os.Getenv("COORDINATOR_ENGINE_ENDPOINT"); v != "" {
		c.Engine.Endpoint = v
	}
	if v := os.Getenv("COORDINATOR_ENGINE_API_KEY"); v != "" {
		c.Engine.APIKey = v
	}
	if v := os.Getenv("COORDINATOR_MIN_ROOM_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Shuffle.MinRoomSize = n
		}
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Tokens.Secret == "" {
		return fmt.Errorf("tokens.secret is required")
	}
	if c.Shuffle.MinRoomSize < 2 {
		return fmt.Errorf("shuffle.min_room_size must be at least 2, got %d", c.Shuffle.MinRoomSize)
	}
	if c.Shuffle.RoundDeadline <= 0 {
		return fmt.Errorf("shuffle.round_deadline must be positive")
	}
	if c.Engine.Endpoint == "" {
		return fmt.Errorf("engine.endpoint is required")
	}
	if c.Chain.RPCURL != "" {
		if c.Chain.Contract == "" {
			return fmt.Errorf("chain.contract is required when chain.rpc_url is set")
		}
		if c.Chain.Coordinator == "" {
			return fmt.Errorf("chain.coordinator_address is required when chain.rpc_url is set")
		}
	}
	return nil
}
