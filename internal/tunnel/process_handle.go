package tunnel

import (
	"ollama2api/internal/core"
	"ollama2api/internal/subprocess"
)

// processHandle is a tunnel kept alive by a child process.
type processHandle struct {
	proc *subprocess.Managed
	addr string
}

func (h *processHandle) Addr() string          { return h.addr }
func (h *processHandle) Done() <-chan struct{} { return h.proc.Done() }
func (h *processHandle) Close() error          { return h.proc.Stop(core.ProcessStopGracePeriod) }
