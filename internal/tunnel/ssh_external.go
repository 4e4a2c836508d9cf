package tunnel

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"ollama2api/internal/core"
	"ollama2api/internal/subprocess"
)

// SSHExternal opens the remote forward with the system ssh client, or plink on windows.
type SSHExternal struct {
	spec      core.SSHSpec
	localPort int
	goos      string
	logger    core.Logger
	settle    time.Duration
	lookPath  func(file string) (string, error)
	command   func(name string, args ...string) *exec.Cmd
}

func NewSSHExternal(spec core.SSHSpec, localPort int, goos string, logger core.Logger) *SSHExternal {
	if spec.Port == 0 {
		spec.Port = core.DefaultSSHPort
	}
	if spec.RemotePort == 0 {
		spec.RemotePort = localPort
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &SSHExternal{
		spec:      spec,
		localPort: localPort,
		goos:      goos,
		logger:    logger,
		settle:    core.SSHExternalSettleWindow,
		lookPath:  exec.LookPath,
		command:   exec.Command,
	}
}

func (s *SSHExternal) Name() string { return "ssh-external" }

func (s *SSHExternal) usePlink() bool { return s.goos == "windows" }

func (s *SSHExternal) binary() string {
	switch {
	case s.spec.Binary != "":
		return s.spec.Binary
	case s.usePlink():
		return core.DefaultPlinkBinary
	default:
		return core.DefaultSSHBinary
	}
}

// Args returns the client command line without the binary.
func (s *SSHExternal) Args() []string {
	forward := fmt.Sprintf("%d:127.0.0.1:%d", s.spec.RemotePort, s.localPort)
	port := strconv.Itoa(s.spec.Port)

	if s.usePlink() {
		args := []string{"-ssh", "-N", "-R", forward, "-P", port}
		if s.spec.KeyFile != "" {
			args = append(args, "-i", s.spec.KeyFile)
		}
		if s.spec.Password != "" {
			args = append(args, "-pw", s.spec.Password)
		}
		return append(args, "-batch", s.spec.Target())
	}

	args := []string{"-N", "-R", forward, "-p", port}
	if s.spec.KnownHostsFile != "" {
		args = append(args, "-o", "StrictHostKeyChecking=yes", "-o", "UserKnownHostsFile="+s.spec.KnownHostsFile)
	} else {
		args = append(args, "-o", "StrictHostKeyChecking=no")
	}
	args = append(args,
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ServerAliveInterval="+strconv.Itoa(core.SSHServerAliveInterval),
	)
	if s.spec.KeyFile != "" {
		args = append(args, "-i", s.spec.KeyFile)
	}
	return append(args, s.spec.Target())
}

func (s *SSHExternal) Establish(ctx context.Context) (Handle, error) {
	path, err := s.lookPath(s.binary())
	if err != nil {
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelBinaryMissing, err)
	}
	if s.spec.Password != "" && !s.usePlink() {
		s.logger.Warn("ssh client cannot take SSH_PASSWORD non-interactively; relying on keys or agent")
	}

	s.logger.Debug("Starting %s -N -R %d:127.0.0.1:%d %s", path, s.spec.RemotePort, s.localPort, s.spec.Target())
	proc, err := subprocess.Start(s.command(path, s.Args()...), false)
	if err != nil {
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelConnect, err)
	}

	settle := time.NewTimer(s.settle)
	defer settle.Stop()
	select {
	case <-proc.Done():
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelConnect,
			fmt.Errorf("client exited early: %v: %s", proc.ExitErr(), strings.TrimSpace(proc.StderrTail())))
	case <-ctx.Done():
		_ = proc.Stop(core.ProcessStopGracePeriod)
		return nil, core.NewTunnelError(s.Name(), core.ErrTunnelConnect, ctx.Err())
	case <-settle.C:
	}

	return &processHandle{
		proc: proc,
		addr: net.JoinHostPort(s.spec.Host, strconv.Itoa(s.spec.RemotePort)),
	}, nil
}
