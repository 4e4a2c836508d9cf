package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"ollama2api/internal/core"
	"ollama2api/internal/util"

	"github.com/bytedance/sonic"
)

// ServerConfig server configuration
type ServerConfig struct {
	Port             string
	BindHost         string
	GinMode          string
	CORSAllowOrigin  string
	OllamaURL        string
	APIMode          core.APIMode
	AutoStart        bool
	OllamaBinary     string
	ModelName        string
	AliasPrefixes    []string
	ModelsConfigPath string
	StatsFilePath    string
	RedisURL         string
	Debug            bool
	RateLimit        int

	Tunnel             core.TunnelSpec
	HTTPClientSettings HTTPClientSettings
	Storage            core.StorageInterface
	Logger             core.Logger
}

// HTTPClientSettings HTTP client configuration
type HTTPClientSettings struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	RequestTimeout      time.Duration
}

// DefaultHTTPClientSettings default HTTP client settings
func DefaultHTTPClientSettings() HTTPClientSettings {
	return HTTPClientSettings{
		MaxIdleConns:        core.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: core.HTTPMaxIdleConnsPerHost,
		MaxConnsPerHost:     core.HTTPMaxConnsPerHost,
		IdleConnTimeout:     core.HTTPIdleConnTimeout,
		TLSHandshakeTimeout: core.HTTPTLSHandshakeTimeout,
		RequestTimeout:      core.HTTPRequestTimeout,
	}
}

// DefaultServerConfig returns the built-in defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            core.DefaultPort,
		BindHost:        core.DefaultBindHost,
		GinMode:         core.DefaultGinMode,
		CORSAllowOrigin: "*",
		OllamaURL:       core.DefaultOllamaURL,
		APIMode:         core.APIModeChat,
		OllamaBinary:    core.DefaultOllamaBinary,
		AliasPrefixes:   append([]string(nil), core.DefaultAliasPrefixes...),
		StatsFilePath:   core.StatsFilePath,
		Tunnel: core.TunnelSpec{
			Kind: core.TunnelNone,
			SSH: core.SSHSpec{
				Port: core.DefaultSSHPort,
			},
			Ngrok: core.NgrokSpec{
				Binary: core.DefaultNgrokBinary,
				APIURL: core.DefaultNgrokAPIURL,
			},
			AttemptTimeout:   core.DefaultTunnelAttemptTimeout,
			MaxReconnects:    core.DefaultTunnelMaxReconnects,
			ReconnectBackoff: core.DefaultTunnelBackoff,
		},
		HTTPClientSettings: DefaultHTTPClientSettings(),
	}
}

// LoadServerConfigFromEnv loads server config from CONFIG_FILE (optional) and environment variables.
// Environment variables win over file values.
func LoadServerConfigFromEnv(logger core.Logger) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := fc.apply(&cfg); err != nil {
			return cfg, fmt.Errorf("apply config file %s: %w", path, err)
		}
		logger.Info("Loaded configuration file %s", path)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Finalize(); err != nil {
		return cfg, err
	}

	if cfg.Tunnel.Kind == core.TunnelNone {
		logger.Info("Tunnel disabled, serving on loopback only")
	} else {
		logger.Info("Tunnel mode: %s", cfg.Tunnel.Kind)
	}
	if cfg.BindHost != core.DefaultBindHost {
		logger.Warn("BIND_HOST=%s exposes the proxy beyond loopback", cfg.BindHost)
	}

	return cfg, nil
}

func applyEnv(cfg *ServerConfig) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.BindHost, "BIND_HOST")
	setString(&cfg.GinMode, "GIN_MODE")
	setString(&cfg.CORSAllowOrigin, "CORS_ALLOW_ORIGIN")
	setString(&cfg.OllamaURL, "OLLAMA_URL")
	setString(&cfg.OllamaBinary, "OLLAMA_BINARY")
	setString(&cfg.ModelName, "MODEL_NAME")
	setString(&cfg.ModelsConfigPath, "MODELS_CONFIG")
	setString(&cfg.StatsFilePath, "STATS_FILE")
	setString(&cfg.RedisURL, "REDIS_URL")

	if mode := os.Getenv("OLLAMA_API_MODE"); mode != "" {
		cfg.APIMode = core.APIMode(strings.ToLower(mode))
	}
	if prefixes := os.Getenv("MODEL_ALIAS_PREFIXES"); prefixes != "" {
		cfg.AliasPrefixes = util.ParseEnvList(prefixes)
	}

	var err error
	if cfg.AutoStart, err = util.GetEnvBool("START_OLLAMA", cfg.AutoStart); err != nil {
		return err
	}
	if cfg.Debug, err = util.GetEnvBool("DEBUG", cfg.Debug); err != nil {
		return err
	}
	if cfg.HTTPClientSettings.RequestTimeout, err = util.GetEnvDuration("REQUEST_TIMEOUT", cfg.HTTPClientSettings.RequestTimeout); err != nil {
		return err
	}
	if cfg.RateLimit, err = util.GetEnvInt("RATE_LIMIT", cfg.RateLimit); err != nil {
		return err
	}

	return applyTunnelEnv(&cfg.Tunnel)
}

func applyTunnelEnv(spec *core.TunnelSpec) error {
	useSSH, err := util.GetEnvBool("USE_SSH", false)
	if err != nil {
		return err
	}
	useNgrok, err := util.GetEnvBool("USE_NGROK", false)
	if err != nil {
		return err
	}
	switch {
	case useSSH:
		spec.Kind = core.TunnelSSH
	case useNgrok:
		spec.Kind = core.TunnelNgrok
	}
	if kind := os.Getenv("TUNNEL"); kind != "" {
		if spec.Kind, err = core.ParseTunnelKind(strings.ToLower(kind)); err != nil {
			return err
		}
	}

	setString(&spec.SSH.Host, "SSH_HOST")
	setString(&spec.SSH.User, "SSH_USER")
	setString(&spec.SSH.Password, "SSH_PASSWORD")
	setString(&spec.SSH.KeyFile, "SSH_KEY_FILE")
	setString(&spec.SSH.KeyPassphrase, "SSH_KEY_PASSPHRASE")
	setString(&spec.SSH.KnownHostsFile, "SSH_KNOWN_HOSTS")
	setString(&spec.SSH.Binary, "SSH_BINARY")
	if spec.SSH.Port, err = util.GetEnvInt("SSH_PORT", spec.SSH.Port); err != nil {
		return err
	}
	if spec.SSH.RemotePort, err = util.GetEnvInt("SSH_REMOTE_PORT", spec.SSH.RemotePort); err != nil {
		return err
	}

	setString(&spec.Ngrok.AuthToken, "NGROK_AUTHTOKEN")
	setString(&spec.Ngrok.Binary, "NGROK_BINARY")
	setString(&spec.Ngrok.APIURL, "NGROK_API_URL")

	if spec.AttemptTimeout, err = util.GetEnvDuration("TUNNEL_ATTEMPT_TIMEOUT", spec.AttemptTimeout); err != nil {
		return err
	}
	if spec.MaxReconnects, err = util.GetEnvInt("TUNNEL_MAX_RECONNECTS", spec.MaxReconnects); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

// Finalize validates the configuration and fills derived values.
func (c *ServerConfig) Finalize() error {
	port, err := util.ParsePort(c.Port)
	if err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	c.Port = strconv.Itoa(port)

	switch c.APIMode {
	case core.APIModeChat, core.APIModeGenerate:
	default:
		return fmt.Errorf("invalid OLLAMA_API_MODE %q: expected chat or generate", c.APIMode)
	}

	c.OllamaURL = strings.TrimRight(c.OllamaURL, "/")
	if !strings.HasPrefix(c.OllamaURL, "http://") && !strings.HasPrefix(c.OllamaURL, "https://") {
		return fmt.Errorf("invalid OLLAMA_URL %q", c.OllamaURL)
	}

	if c.HTTPClientSettings.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative")
	}

	c.Tunnel.LocalPort = port
	if c.Tunnel.AttemptTimeout <= 0 {
		c.Tunnel.AttemptTimeout = core.DefaultTunnelAttemptTimeout
	}
	if c.Tunnel.MaxReconnects < 0 {
		return fmt.Errorf("TUNNEL_MAX_RECONNECTS must not be negative")
	}

	if c.Tunnel.Kind == core.TunnelSSH {
		if c.Tunnel.SSH.Host == "" || c.Tunnel.SSH.User == "" {
			return fmt.Errorf("ssh tunnel requires SSH_HOST and SSH_USER")
		}
		if c.Tunnel.SSH.Port == 0 {
			c.Tunnel.SSH.Port = core.DefaultSSHPort
		}
		if c.Tunnel.SSH.RemotePort == 0 {
			c.Tunnel.SSH.RemotePort = port
		}
		if c.Tunnel.SSH.RemotePort < 1 || c.Tunnel.SSH.RemotePort > 65535 {
			return fmt.Errorf("SSH_REMOTE_PORT %d out of range", c.Tunnel.SSH.RemotePort)
		}
	}

	return nil
}

// ListenAddr returns host:port for the proxy listener.
func (c ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.BindHost, c.Port)
}

// LoadModelsConfig loads explicit model aliases. Accepts {"models":{alias:target}} or a plain
// list of names that map to themselves.
func LoadModelsConfig(path string) (core.ModelsConfig, error) {
	var config core.ModelsConfig

	data, err := os.ReadFile(path) //nolint:gosec // G304: path from config, not user input
	if err != nil {
		return config, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := sonic.Unmarshal(data, &config); err != nil {
		var modelIDs []string
		if err := sonic.Unmarshal(data, &modelIDs); err != nil {
			return config, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		config.Models = make(map[string]string)
		for _, modelID := range modelIDs {
			config.Models[modelID] = modelID
		}
	}

	if config.Models == nil {
		config.Models = make(map[string]string)
	}

	return config, nil
}
