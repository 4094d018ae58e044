package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"
)

// ProcessConfig holds launch settings for one browser process. Each capture
// session owns its own process, so ports and profile dirs are per-instance.
type ProcessConfig struct {
	CDPAddress string
	CDPPort    int
	ProfileDir string
	UserAgent  string
	Headless   bool
	WindowSize string
}

// Process manages the lifecycle of a single browser process.
type Process struct {
	cfg ProcessConfig
	cmd *exec.Cmd

	mu     sync.Mutex
	exited bool
	waited chan struct{}
}

// NewProcess creates a launcher for one browser process.
func NewProcess(cfg ProcessConfig) *Process {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,800"
	}
	if cfg.CDPAddress == "" {
		cfg.CDPAddress = "127.0.0.1"
	}
	return &Process{cfg: cfg, waited: make(chan struct{})}
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

// CDPURL returns the HTTP endpoint of the process's debugging port.
func (p *Process) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", p.cfg.CDPAddress, p.cfg.CDPPort)
}

// Start launches the browser process and waits for its CDP endpoint.
func (p *Process) Start(ctx context.Context) error {
	browserPath, err := detectBrowser()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(p.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", p.cfg.CDPPort),
		fmt.Sprintf("--remote-debugging-address=%s", p.cfg.CDPAddress),
		fmt.Sprintf("--user-data-dir=%s", p.cfg.ProfileDir),
		"--no-first-run",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		"--disable-crash-reporter",
		"--disable-blink-features=AutomationControlled",
		fmt.Sprintf("--window-size=%s", p.cfg.WindowSize),
	}
	if p.cfg.UserAgent != "" {
		args = append(args, fmt.Sprintf("--user-agent=%s", p.cfg.UserAgent))
	}
	if p.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, "about:blank")

	p.cmd = exec.Command(browserPath, args...)

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	slog.Info("browser process started",
		"pid", p.cmd.Process.Pid, "port", p.cfg.CDPPort, "headless", p.cfg.Headless,
		"profile", filepath.Base(p.cfg.ProfileDir))

	go func() {
		_ = p.cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()
		close(p.waited)
	}()

	if err := p.waitForCDP(ctx); err != nil {
		p.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	return nil
}

// waitForCDP polls the CDP /json/version endpoint until it responds.
func (p *Process) waitForCDP(ctx context.Context) error {
	url := p.CDPURL() + "/json/version"
	deadline := time.After(15 * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within 15s at %s", url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Alive reports whether the process is still running. A headed browser the
// user closed by hand shows up here as exited.
func (p *Process) Alive() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// Stop terminates the browser process with SIGTERM, falling back to SIGKILL.
// Stopping an already-exited process is a no-op.
func (p *Process) Stop() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if !p.Alive() {
		return
	}
	slog.Info("stopping browser", "pid", p.cmd.Process.Pid)
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.waited:
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = p.cmd.Process.Kill()
		<-p.waited
	}
}
