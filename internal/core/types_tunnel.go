package core

import (
	"fmt"
	"time"
)

// TunnelKind names the requested reachability mode.
type TunnelKind string

const (
	TunnelNone  TunnelKind = "none"
	TunnelSSH   TunnelKind = "ssh"
	TunnelNgrok TunnelKind = "ngrok"
)

// ParseTunnelKind maps a config value to a TunnelKind.
func ParseTunnelKind(s string) (TunnelKind, error) {
	switch TunnelKind(s) {
	case "", TunnelNone:
		return TunnelNone, nil
	case TunnelSSH:
		return TunnelSSH, nil
	case TunnelNgrok:
		return TunnelNgrok, nil
	default:
		return TunnelNone, fmt.Errorf("unknown tunnel kind %q", s)
	}
}

// SSHSpec describes a remote port forward.
type SSHSpec struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyFile        string
	KeyPassphrase  string
	RemotePort     int
	KnownHostsFile string
	Binary         string
}

// Target returns user@host.
func (s SSHSpec) Target() string {
	return s.User + "@" + s.Host
}

// NgrokSpec describes a public tunnel through the ngrok agent.
type NgrokSpec struct {
	AuthToken string
	Binary    string
	APIURL    string
}

// TunnelSpec is built once from configuration and never mutated.
type TunnelSpec struct {
	Kind             TunnelKind
	LocalPort        int
	SSH              SSHSpec
	Ngrok            NgrokSpec
	AttemptTimeout   time.Duration
	MaxReconnects    int
	ReconnectBackoff time.Duration
}

// TunnelState is the orchestrator state.
type TunnelState int

const (
	TunnelIdle TunnelState = iota
	TunnelAttempting
	TunnelEstablished
	TunnelFailed
	TunnelClosed
)

func (s TunnelState) String() string {
	switch s {
	case TunnelIdle:
		return "idle"
	case TunnelAttempting:
		return "attempting"
	case TunnelEstablished:
		return "established"
	case TunnelFailed:
		return "failed"
	case TunnelClosed:
		return "closed"
	default:
		return "unknown"
	}
}
