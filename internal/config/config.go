// Package config loads bridge configuration from an optional YAML file with
// environment variable overrides on top. Defaults are chosen for local
// development; production deployments set the store/broker addresses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full bridge configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Adapter AdapterConfig `yaml:"adapter"`
	Stores  StoresConfig  `yaml:"stores"`
	Search  SearchConfig  `yaml:"search"`
	Client  ClientConfig  `yaml:"client"`
}

// ServerConfig tunes the HTTP/WebSocket listener.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	MaxConnections    int           `yaml:"max_connections"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
}

// AdapterConfig locates the WhatsApp runner and its state directories.
type AdapterConfig struct {
	ScriptPath     string        `yaml:"script_path"`
	SessionPath    string        `yaml:"session_path"`
	MediaPath      string        `yaml:"media_path"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// StoresConfig holds external store/broker addresses. Empty values disable
// the corresponding integration.
type StoresConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	NatsURL     string `yaml:"nats_url"`
}

// SearchConfig bounds message search.
type SearchConfig struct {
	FetchLimit int `yaml:"fetch_limit"` // candidate messages fetched per chat
	ResultCap  int `yaml:"result_cap"`  // aggregate result cap
}

// ClientConfig tunes the dashboard transport (cmd/watch).
type ClientConfig struct {
	WSURL             string        `yaml:"ws_url"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			MaxConnections:    256,
			WriteTimeout:      10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
		},
		Adapter: AdapterConfig{
			ScriptPath:     "./runner/whatsapp.js",
			SessionPath:    "./whatsapp-session",
			MediaPath:      "./downloads",
			CommandTimeout: 30 * time.Second,
		},
		Search: SearchConfig{
			FetchLimit: 100,
			ResultCap:  50,
		},
		Client: ClientConfig{
			PingInterval:      30 * time.Second,
			ReconnectBase:     1 * time.Second,
			ReconnectMax:      30 * time.Second,
			ReconnectAttempts: 10,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// is absent) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides config fields from the environment. Variables mirror
// the YAML structure.
func (c *Config) applyEnv() {
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")
	setInt(&c.Server.MaxConnections, "MAX_CONNECTIONS")
	setDuration(&c.Server.WriteTimeout, "WRITE_TIMEOUT")
	setDuration(&c.Server.HeartbeatInterval, "HEARTBEAT_INTERVAL")

	setString(&c.Adapter.ScriptPath, "WHATSAPP_SCRIPT_PATH")
	setString(&c.Adapter.SessionPath, "WHATSAPP_SESSION_PATH")
	setString(&c.Adapter.MediaPath, "MEDIA_PATH")
	setDuration(&c.Adapter.CommandTimeout, "WHATSAPP_COMMAND_TIMEOUT")

	setString(&c.Stores.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Stores.RedisAddr, "REDIS_ADDR")
	setString(&c.Stores.NatsURL, "NATS_URL")

	setInt(&c.Search.FetchLimit, "SEARCH_FETCH_LIMIT")
	setInt(&c.Search.ResultCap, "SEARCH_RESULT_CAP")

	setString(&c.Client.WSURL, "BRIDGE_WS_URL")
	setDuration(&c.Client.PingInterval, "CLIENT_PING_INTERVAL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
