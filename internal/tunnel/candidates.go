package tunnel

import (
	"ollama2api/internal/core"
)

// Candidates returns the strategies to try for spec, in order. goos selects the external ssh client.
func Candidates(spec core.TunnelSpec, goos string, logger core.Logger) []Strategy {
	switch spec.Kind {
	case core.TunnelSSH:
		return []Strategy{
			NewSSHLibrary(spec.SSH, spec.LocalPort, logger),
			NewSSHExternal(spec.SSH, spec.LocalPort, goos, logger),
		}
	case core.TunnelNgrok:
		return []Strategy{NewNgrok(spec.Ngrok, spec.LocalPort, logger)}
	default:
		return nil
	}
}
