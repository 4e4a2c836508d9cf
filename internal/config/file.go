package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ollama2api/internal/core"

	"github.com/bytedance/sonic"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors ServerConfig for CONFIG_FILE. Zero values mean "unspecified".
type FileConfig struct {
	Port            int        `json:"port" yaml:"port" toml:"port"`
	BindHost        string     `json:"bind_host" yaml:"bind_host" toml:"bind_host"`
	OllamaURL       string     `json:"ollama_url" yaml:"ollama_url" toml:"ollama_url"`
	APIMode         string     `json:"api_mode" yaml:"api_mode" toml:"api_mode"`
	Model           string     `json:"model" yaml:"model" toml:"model"`
	StartOllama     *bool      `json:"start_ollama" yaml:"start_ollama" toml:"start_ollama"`
	OllamaBinary    string     `json:"ollama_binary" yaml:"ollama_binary" toml:"ollama_binary"`
	AliasPrefixes   []string   `json:"alias_prefixes" yaml:"alias_prefixes" toml:"alias_prefixes"`
	ModelsConfig    string     `json:"models_config" yaml:"models_config" toml:"models_config"`
	RequestTimeout  string     `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	Debug           *bool      `json:"debug" yaml:"debug" toml:"debug"`
	StatsFile       string     `json:"stats_file" yaml:"stats_file" toml:"stats_file"`
	RedisURL        string     `json:"redis_url" yaml:"redis_url" toml:"redis_url"`
	CORSAllowOrigin string     `json:"cors_allow_origin" yaml:"cors_allow_origin" toml:"cors_allow_origin"`
	RateLimit       int        `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Tunnel          FileTunnel `json:"tunnel" yaml:"tunnel" toml:"tunnel"`
}

// FileTunnel is the tunnel section of CONFIG_FILE.
type FileTunnel struct {
	Kind           string    `json:"kind" yaml:"kind" toml:"kind"`
	AttemptTimeout string    `json:"attempt_timeout" yaml:"attempt_timeout" toml:"attempt_timeout"`
	MaxReconnects  *int      `json:"max_reconnects" yaml:"max_reconnects" toml:"max_reconnects"`
	SSH            FileSSH   `json:"ssh" yaml:"ssh" toml:"ssh"`
	Ngrok          FileNgrok `json:"ngrok" yaml:"ngrok" toml:"ngrok"`
}

// FileSSH is the ssh subsection.
type FileSSH struct {
	Host          string `json:"host" yaml:"host" toml:"host"`
	Port          int    `json:"port" yaml:"port" toml:"port"`
	User          string `json:"user" yaml:"user" toml:"user"`
	Password      string `json:"password" yaml:"password" toml:"password"`
	KeyFile       string `json:"key_file" yaml:"key_file" toml:"key_file"`
	KeyPassphrase string `json:"key_passphrase" yaml:"key_passphrase" toml:"key_passphrase"`
	RemotePort    int    `json:"remote_port" yaml:"remote_port" toml:"remote_port"`
	KnownHosts    string `json:"known_hosts" yaml:"known_hosts" toml:"known_hosts"`
	Binary        string `json:"binary" yaml:"binary" toml:"binary"`
}

// FileNgrok is the ngrok subsection.
type FileNgrok struct {
	AuthToken string `json:"authtoken" yaml:"authtoken" toml:"authtoken"`
	Binary    string `json:"binary" yaml:"binary" toml:"binary"`
	APIURL    string `json:"api_url" yaml:"api_url" toml:"api_url"`
}

// LoadFile reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	case ".json":
		err = sonic.Unmarshal(b, &fc)
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	default:
		return fc, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

func (fc FileConfig) apply(cfg *ServerConfig) error {
	if fc.Port != 0 {
		cfg.Port = strconv.Itoa(fc.Port)
	}
	overrideString(&cfg.BindHost, fc.BindHost)
	overrideString(&cfg.OllamaURL, fc.OllamaURL)
	overrideString(&cfg.ModelName, fc.Model)
	overrideString(&cfg.OllamaBinary, fc.OllamaBinary)
	overrideString(&cfg.ModelsConfigPath, fc.ModelsConfig)
	overrideString(&cfg.StatsFilePath, fc.StatsFile)
	overrideString(&cfg.RedisURL, fc.RedisURL)
	overrideString(&cfg.CORSAllowOrigin, fc.CORSAllowOrigin)
	if fc.RateLimit != 0 {
		cfg.RateLimit = fc.RateLimit
	}
	if fc.APIMode != "" {
		cfg.APIMode = core.APIMode(strings.ToLower(fc.APIMode))
	}
	if fc.StartOllama != nil {
		cfg.AutoStart = *fc.StartOllama
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if len(fc.AliasPrefixes) > 0 {
		cfg.AliasPrefixes = fc.AliasPrefixes
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("request_timeout: %w", err)
		}
		cfg.HTTPClientSettings.RequestTimeout = d
	}
	return fc.Tunnel.apply(&cfg.Tunnel)
}

func (ft FileTunnel) apply(spec *core.TunnelSpec) error {
	if ft.Kind != "" {
		kind, err := core.ParseTunnelKind(strings.ToLower(ft.Kind))
		if err != nil {
			return err
		}
		spec.Kind = kind
	}
	if ft.AttemptTimeout != "" {
		d, err := time.ParseDuration(ft.AttemptTimeout)
		if err != nil {
			return fmt.Errorf("tunnel.attempt_timeout: %w", err)
		}
		spec.AttemptTimeout = d
	}
	if ft.MaxReconnects != nil {
		spec.MaxReconnects = *ft.MaxReconnects
	}

	overrideString(&spec.SSH.Host, ft.SSH.Host)
	overrideString(&spec.SSH.User, ft.SSH.User)
	overrideString(&spec.SSH.Password, ft.SSH.Password)
	overrideString(&spec.SSH.KeyFile, ft.SSH.KeyFile)
	overrideString(&spec.SSH.KeyPassphrase, ft.SSH.KeyPassphrase)
	overrideString(&spec.SSH.KnownHostsFile, ft.SSH.KnownHosts)
	overrideString(&spec.SSH.Binary, ft.SSH.Binary)
	if ft.SSH.Port != 0 {
		spec.SSH.Port = ft.SSH.Port
	}
	if ft.SSH.RemotePort != 0 {
		spec.SSH.RemotePort = ft.SSH.RemotePort
	}

	overrideString(&spec.Ngrok.AuthToken, ft.Ngrok.AuthToken)
	overrideString(&spec.Ngrok.Binary, ft.Ngrok.Binary)
	overrideString(&spec.Ngrok.APIURL, ft.Ngrok.APIURL)
	return nil
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
