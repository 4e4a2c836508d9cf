package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"ollama2api/internal/core"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHLibrary opens a remote port forward with an in-process SSH client.
type SSHLibrary struct {
	spec      core.SSHSpec
	localAddr string
	logger    core.Logger
	keepalive time.Duration
	bindHost  string
}

func NewSSHLibrary(spec core.SSHSpec, localPort int, logger core.Logger) *SSHLibrary {
	if spec.Port == 0 {
		spec.Port = core.DefaultSSHPort
	}
	if spec.RemotePort == 0 {
		spec.RemotePort = localPort
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &SSHLibrary{
		spec:      spec,
		localAddr: net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)),
		logger:    logger,
		keepalive: core.SSHKeepaliveInterval,
		bindHost:  "0.0.0.0",
	}
}

func (s *SSHLibrary) Name() string { return "ssh-library" }

func (s *SSHLibrary) Establish(ctx context.Context) (Handle, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelAuth, err)
	}

	addr := net.JoinHostPort(s.spec.Host, strconv.Itoa(s.spec.Port))
	dialer := net.Dialer{Timeout: core.SSHDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelConnect, err)
	}

	// The handshake has no context of its own; closing the conn aborts it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, core.NewTunnelError(s.Name(), classifyHandshakeError(err), err)
	}
	client := ssh.NewClient(cc, chans, reqs)

	listenAddr := net.JoinHostPort(s.bindHost, strconv.Itoa(s.spec.RemotePort))
	ln, err := client.Listen("tcp", listenAddr)
	if err != nil {
		stop()
		_ = client.Close()
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelConnect, fmt.Errorf("remote listen %s: %w", listenAddr, err))
	}
	if !stop() {
		_ = ln.Close()
		_ = client.Close()
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelConnect, ctx.Err())
	}

	h := &sshHandle{
		client:    client,
		ln:        ln,
		localAddr: s.localAddr,
		addr:      net.JoinHostPort(s.spec.Host, strconv.Itoa(s.spec.RemotePort)),
		logger:    s.logger,
		done:      make(chan struct{}),
	}
	go h.acceptLoop()
	go h.keepaliveLoop(s.keepalive)
	go func() {
		_ = client.Wait()
		h.shutdown()
	}()
	return h, nil
}

func (s *SSHLibrary) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.spec.KeyFile != "" {
		signer, err := loadSigner(s.spec.KeyFile, s.spec.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.spec.Password != "" {
		auth = append(auth, ssh.Password(s.spec.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh password or key file configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: accept-any matches the ssh client fallback when no known_hosts is configured
	if s.spec.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.spec.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", s.spec.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	} else {
		s.logger.Warn("SSH_KNOWN_HOSTS not set, accepting any host key from %s", s.spec.Host)
	}

	return &ssh.ClientConfig{
		User:            s.spec.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         core.SSHDialTimeout,
	}, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied key path
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("key %s is encrypted and SSH_KEY_PASSPHRASE is not set", path)
		}
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return signer, nil
}

// classifyHandshakeError separates credential and host-key rejections from network failures.
func classifyHandshakeError(err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(err.Error(), "unable to authenticate") {
		return core.ErrTunnelAuth
	}
	return core.ErrTunnelConnect
}

// sshHandle pipes every remote connection to the local proxy.
type sshHandle struct {
	client    *ssh.Client
	ln        net.Listener
	localAddr string
	addr      string
	logger    core.Logger

	done chan struct{}
	once sync.Once
}

func (h *sshHandle) Addr() string          { return h.addr }
func (h *sshHandle) Done() <-chan struct{} { return h.done }

func (h *sshHandle) Close() error {
	h.shutdown()
	return nil
}

func (h *sshHandle) shutdown() {
	h.once.Do(func() {
		close(h.done)
		_ = h.ln.Close()
		_ = h.client.Close()
	})
}

func (h *sshHandle) acceptLoop() {
	for {
		remote, err := h.ln.Accept()
		if err != nil {
			select {
			case <-h.done:
			default:
				h.logger.Warn("SSH forward listener closed: %v", err)
			}
			h.shutdown()
			return
		}
		go h.pipe(remote)
	}
}

func (h *sshHandle) pipe(remote net.Conn) {
	local, err := net.DialTimeout("tcp", h.localAddr, core.TunnelLocalDialTimeout)
	if err != nil {
		h.logger.Warn("Forwarded connection dropped, local dial %s failed: %v", h.localAddr, err)
		_ = remote.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(local, remote)
		closeWrite(local)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(remote, local)
		closeWrite(remote)
	}()
	wg.Wait()
	_ = local.Close()
	_ = remote.Close()
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}

func (h *sshHandle) keepaliveLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if _, _, err := h.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				h.logger.Warn("SSH keepalive failed: %v", err)
				h.shutdown()
				return
			}
		}
	}
}
