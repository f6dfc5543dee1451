package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	DefaultHost       = "minechat.dvmn.org"
	DefaultListenPort = 5000
	DefaultSendPort   = 5050
)

// Config represents application configuration. The token is kept in
// its own file with owner-only permissions, never in config.json.
type Config struct {
	Host            string `json:"host"`
	ListenPort      int    `json:"listen_port"`
	SendPort        int    `json:"send_port"`
	HistoryBackend  string `json:"history_backend"` // file, sqlite or postgres
	HistoryPath     string `json:"history_path"`
	PostgresURL     string `json:"postgres_url,omitempty"`
	LogLevel        string `json:"log_level"` // error, warn, info, debug or trace
	LogPath         string `json:"log_path"`
	WatchdogSeconds int    `json:"watchdog_seconds,omitempty"` // zero disables the watchdog

	Token string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "minechat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "minechat")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "minechat")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "minechat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "minechat")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "minechat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "minechat")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "minechat")
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultHost,
		ListenPort:     DefaultListenPort,
		SendPort:       DefaultSendPort,
		HistoryBackend: "file",
		HistoryPath:    "minechat.history",
		LogLevel:       "info",
		LogPath:        filepath.Join(defaultStateDir(), "minechat.log"),
	}
}

// Load loads configuration from the file at path, then applies
// MINECHAT_* environment overrides. A missing file yields the
// defaults. When no token came from the environment, the token file is
// read as a fallback.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.ListenPort == 0 {
		config.ListenPort = DefaultListenPort
	}
	if config.SendPort == 0 {
		config.SendPort = DefaultSendPort
	}
	if config.HistoryBackend == "" {
		config.HistoryBackend = "file"
	}
	if config.HistoryPath == "" {
		config.HistoryPath = "minechat.history"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), "minechat.log")
	}

	config.applyEnv()

	if config.Token == "" {
		token, err := LoadToken(TokenPath())
		if err != nil {
			return nil, fmt.Errorf("failed to read token file: %v", err)
		}
		config.Token = token
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if host := os.Getenv("MINECHAT_HOST"); host != "" {
		c.Host = host
	}
	if port, ok := envInt("MINECHAT_LISTEN_PORT"); ok {
		c.ListenPort = port
	}
	if port, ok := envInt("MINECHAT_SEND_PORT"); ok {
		c.SendPort = port
	}
	if backend := os.Getenv("MINECHAT_HISTORY_BACKEND"); backend != "" {
		c.HistoryBackend = backend
	}
	if path := os.Getenv("MINECHAT_HISTORY_PATH"); path != "" {
		c.HistoryPath = path
	}
	if url := os.Getenv("MINECHAT_POSTGRES_URL"); url != "" {
		c.PostgresURL = url
	}
	if level := os.Getenv("MINECHAT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if path := os.Getenv("MINECHAT_LOG_PATH"); path != "" {
		c.LogPath = path
	}
	if seconds, ok := envInt("MINECHAT_WATCHDOG_SECONDS"); ok {
		c.WatchdogSeconds = seconds
	}
	if token := os.Getenv("MINECHAT_TOKEN"); token != "" {
		c.Token = token
	}
}

func envInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Save saves the configuration to the file at path.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}

	return nil
}

// ListenAddr returns the address of the broadcast stream.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.ListenPort)
}

// SendAddr returns the address of the send channel.
func (c *Config) SendAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.SendPort)
}

// GetConfigPath returns the default config file path.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// TokenPath returns the default token file path.
func TokenPath() string {
	return filepath.Join(defaultConfigDir(), "token")
}

// SaveToken writes the token file with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %v", err)
	}
	return nil
}

// LoadToken reads the token file. A missing file is not an error.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
