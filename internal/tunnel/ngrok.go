package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"ollama2api/internal/core"
	"ollama2api/internal/subprocess"
	"ollama2api/internal/util"
)

// Ngrok exposes the proxy through the ngrok agent and discovers the public URL.
type Ngrok struct {
	spec          core.NgrokSpec
	localPort     int
	logger        core.Logger
	httpClient    *http.Client
	fallbackDelay time.Duration
	pollInterval  time.Duration
	lookPath      func(file string) (string, error)
	command       func(name string, args ...string) *exec.Cmd
}

func NewNgrok(spec core.NgrokSpec, localPort int, logger core.Logger) *Ngrok {
	if spec.Binary == "" {
		spec.Binary = core.DefaultNgrokBinary
	}
	if spec.APIURL == "" {
		spec.APIURL = core.DefaultNgrokAPIURL
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &Ngrok{
		spec:          spec,
		localPort:     localPort,
		logger:        logger,
		httpClient:    &http.Client{Timeout: 2 * time.Second},
		fallbackDelay: core.NgrokAPIFallbackDelay,
		pollInterval:  core.NgrokAPIPollInterval,
		lookPath:      exec.LookPath,
		command:       exec.Command,
	}
}

func (n *Ngrok) Name() string { return "ngrok" }

// Args returns the agent command line without the binary.
func (n *Ngrok) Args() []string {
	args := []string{"http", strconv.Itoa(n.localPort), "--log", "stdout", "--log-format", "json"}
	if n.spec.AuthToken != "" {
		args = append(args, "--authtoken", n.spec.AuthToken)
	}
	return args
}

func (n *Ngrok) Establish(ctx context.Context) (Handle, error) {
	path, err := n.lookPath(n.spec.Binary)
	if err != nil {
		return nil, core.NewTunnelError(n.Name(), core.ErrTunnelBinaryMissing, err)
	}

	proc, err := subprocess.Start(n.command(path, n.Args()...), true)
	if err != nil {
		return nil, core.NewTunnelError(n.Name(), core.ErrTunnelConnect, err)
	}

	urls := make(chan string, 1)
	go scanNgrokLog(proc.Stdout(), urls, n.logger)

	fallback := time.NewTimer(n.fallbackDelay)
	defer fallback.Stop()
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	var poll <-chan time.Time

	for {
		select {
		case url := <-urls:
			return &processHandle{proc: proc, addr: url}, nil
		case <-fallback.C:
			ticker = time.NewTicker(n.pollInterval)
			poll = ticker.C
			if url := n.queryAPI(ctx); url != "" {
				return &processHandle{proc: proc, addr: url}, nil
			}
		case <-poll:
			if url := n.queryAPI(ctx); url != "" {
				return &processHandle{proc: proc, addr: url}, nil
			}
		case <-proc.Done():
			return nil, core.NewTunnelError(n.Name(), core.ErrTunnelConnect,
				fmt.Errorf("agent exited early: %v: %s", proc.ExitErr(), strings.TrimSpace(proc.StderrTail())))
		case <-ctx.Done():
			_ = proc.Stop(core.ProcessStopGracePeriod)
			return nil, core.NewTunnelError(n.Name(), core.ErrTunnelConnect,
				fmt.Errorf("no public url: %w", ctx.Err()))
		}
	}
}

type ngrokLogLine struct {
	Msg string `json:"msg"`
	URL string `json:"url"`
	Err string `json:"err"`
}

// scanNgrokLog reports the first public URL and keeps draining stdout until the agent exits.
func scanNgrokLog(r io.Reader, urls chan<- string, logger core.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), core.MaxScannerBufferSize)
	sent := false
	for scanner.Scan() {
		var entry ngrokLogLine
		if err := util.UnmarshalJSON(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Err != "" && entry.Err != "<nil>" {
			logger.Debug("ngrok: %s: %s", entry.Msg, entry.Err)
		}
		if !sent && strings.HasPrefix(entry.URL, "http") {
			urls <- entry.URL
			sent = true
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

type ngrokTunnelsResponse struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
	} `json:"tunnels"`
}

// queryAPI asks the local agent API for a public URL, preferring https.
func (n *Ngrok) queryAPI(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(n.spec.APIURL, "/")+"/api/tunnels", nil)
	if err != nil {
		return ""
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Debug("ngrok api not ready: %v", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return ""
	}
	var parsed ngrokTunnelsResponse
	if err := util.UnmarshalJSON(body, &parsed); err != nil {
		return ""
	}
	url := ""
	for _, t := range parsed.Tunnels {
		if t.Proto == "https" || strings.HasPrefix(t.PublicURL, "https://") {
			return t.PublicURL
		}
		if url == "" {
			url = t.PublicURL
		}
	}
	return url
}
