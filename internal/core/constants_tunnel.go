package core

import "time"

// Tunnel defaults
const (
	DefaultSSHPort              = 22
	DefaultSSHBinary            = "ssh"
	DefaultPlinkBinary          = "plink"
	DefaultNgrokBinary          = "ngrok"
	DefaultNgrokAPIURL          = "http://127.0.0.1:4040"
	DefaultTunnelAttemptTimeout = 10 * time.Second
	DefaultTunnelMaxReconnects  = 3
	DefaultTunnelBackoff        = 2 * time.Second
	SSHDialTimeout              = 10 * time.Second
	SSHKeepaliveInterval        = 30 * time.Second
	SSHExternalSettleWindow     = 2 * time.Second
	SSHServerAliveInterval      = 60
)

// ngrok agent discovery
const (
	NgrokAPIFallbackDelay  = 3 * time.Second
	NgrokAPIPollInterval   = 500 * time.Millisecond
	TunnelLocalDialTimeout = 5 * time.Second
)
