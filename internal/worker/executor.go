package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/logger"
	"github.com/fetchdeck/backend/internal/queue"
	"github.com/fetchdeck/backend/internal/relay"
)

const (
	// ModeArg is the argv[1] value that switches the binary into worker
	// mode.
	ModeArg = "worker"

	defaultGracePeriod = 5 * time.Second

	scannerBuffer    = 64 * 1024
	scannerMaxBuffer = 1024 * 1024
)

// ExecutorConfig configures how worker processes are spawned.
type ExecutorConfig struct {
	// WorkerBin is the binary to re-exec in worker mode. Defaults to the
	// current executable.
	WorkerBin   string
	OutputDir   string
	YTDLPPath   string
	GracePeriod time.Duration
}

// ProcessExecutor runs each admitted job in an isolated OS process. A
// hang or crash inside the download tool can only take down that
// process, never the orchestrator.
type ProcessExecutor struct {
	relay *relay.Relay
	cfg   ExecutorConfig
	log   *logger.Logger
}

func NewProcessExecutor(r *relay.Relay, cfg ExecutorConfig) (*ProcessExecutor, error) {
	if cfg.WorkerBin == "" {
		bin, err := os.Executable()
		if err != nil {
			return nil, err
		}
		cfg.WorkerBin = bin
	}
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = "yt-dlp"
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &ProcessExecutor{
		relay: r,
		cfg:   cfg,
		log:   logger.Default().WithComponent("worker"),
	}, nil
}

// Start spawns the worker process for a job and begins collecting its
// messages. The returned handle cancels the worker: SIGTERM first, then
// SIGKILL after the grace period.
func (e *ProcessExecutor) Start(j *job.Job) (queue.Handle, error) {
	spec := Spec{
		JobID:      j.ID,
		URL:        j.URL,
		FormatSpec: j.FormatSpec,
		OutputDir:  e.cfg.OutputDir,
		YTDLPPath:  e.cfg.YTDLPPath,
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(e.cfg.WorkerBin, ModeArg)
	cmd.Stdin = bytes.NewReader(payload)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := newTailBuffer()
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &procHandle{
		cmd:    cmd,
		grace:  e.cfg.GracePeriod,
		reaped: make(chan struct{}),
	}
	go e.collect(j.ID, h, stdout, stderr)
	return h, nil
}

// collect reads the worker's line protocol until the process exits, then
// publishes exactly one terminal message. A worker that dies without a
// structured result is reported as a crash, never dropped silently.
func (e *ProcessExecutor) collect(jobID string, h *procHandle, stdout io.Reader, stderr *tailBuffer) {
	ctx := context.Background()

	var terminal *Envelope

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, scannerBuffer), scannerMaxBuffer)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			e.log.Debug(ctx, "ignoring malformed worker message", map[string]any{"job_id": jobID})
			continue
		}

		switch env.Type {
		case TypeProgress:
			if h.canceled() {
				continue
			}
			e.relay.Publish(relay.Message{
				JobID:      jobID,
				Kind:       relay.KindProgress,
				Percent:    env.Percent,
				Speed:      env.Speed,
				ETASeconds: env.ETASeconds,
				Title:      env.Title,
			})
		case TypeResult:
			result := env
			terminal = &result
		}
	}

	// If the scanner aborted (over-long line), keep draining so the
	// worker cannot block on a full stdout pipe before Wait.
	if scanner.Err() != nil {
		io.Copy(io.Discard, stdout)
	}

	waitErr := h.cmd.Wait()
	close(h.reaped)

	switch {
	case h.canceled():
		// Cancellation wins over any result that raced the kill signal.
		e.relay.Publish(relay.Message{JobID: jobID, Kind: relay.KindCanceled})

	case terminal != nil && terminal.OK:
		e.relay.Publish(relay.Message{
			JobID:      jobID,
			Kind:       relay.KindCompleted,
			Percent:    100,
			Title:      terminal.Title,
			OutputPath: terminal.OutputPath,
		})

	case terminal != nil:
		e.relay.Publish(relay.Message{JobID: jobID, Kind: relay.KindFailed, Err: terminal.Error})

	default:
		msg := "worker terminated unexpectedly"
		if waitErr != nil {
			msg += ": " + waitErr.Error()
		}
		if tail := stderr.String(); tail != "" {
			msg += ": " + tail
		}
		e.relay.Publish(relay.Message{JobID: jobID, Kind: relay.KindFailed, Err: msg, Crashed: true})
	}
}

type procHandle struct {
	cmd        *exec.Cmd
	grace      time.Duration
	cancelOnce sync.Once
	isCanceled atomic.Bool
	reaped     chan struct{}
}

func (h *procHandle) canceled() bool {
	return h.isCanceled.Load()
}

// Cancel signals the worker to terminate and force-kills it if it does
// not exit within the grace period.
func (h *procHandle) Cancel() {
	h.cancelOnce.Do(func() {
		h.isCanceled.Store(true)
		if h.cmd.Process != nil {
			h.cmd.Process.Signal(syscall.SIGTERM)
		}
		go func() {
			select {
			case <-h.reaped:
			case <-time.After(h.grace):
				if h.cmd.Process != nil {
					h.cmd.Process.Kill()
				}
			}
		}()
	})
}

const tailBufferMax = 8 * 1024

// tailBuffer keeps a bounded amount of worker stderr for crash
// diagnostics.
type tailBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func newTailBuffer() *tailBuffer {
	return &tailBuffer{}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf.Len() < tailBufferMax {
		remain := tailBufferMax - t.buf.Len()
		if len(p) > remain {
			t.buf.Write(p[:remain])
		} else {
			t.buf.Write(p)
		}
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
