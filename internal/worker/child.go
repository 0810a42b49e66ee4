package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
)

// Main is the worker-mode entry point: the orchestrator re-execs this
// binary with argv[1] == ModeArg, writes a Spec to stdin, and reads the
// line protocol from stdout. The actual download runs in yet another
// child, the yt-dlp process; a SIGTERM from the orchestrator tears both
// down.
func Main() int {
	var spec Spec
	if err := json.NewDecoder(os.Stdin).Decode(&spec); err != nil {
		em := newEmitter(os.Stdout, "")
		em.result(false, "", "", "invalid worker spec: "+err.Error())
		return 1
	}

	em := newEmitter(os.Stdout, spec.JobID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := runDownload(ctx, spec, em); err != nil {
		return 1
	}
	return 0
}

// emitter serializes protocol messages onto stdout. Both yt-dlp output
// readers report through it, so writes are locked.
type emitter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	jobID string
}

func newEmitter(w io.Writer, jobID string) *emitter {
	return &emitter{enc: json.NewEncoder(w), jobID: jobID}
}

func (e *emitter) progress(p Progress, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc.Encode(Envelope{
		Type:       TypeProgress,
		JobID:      e.jobID,
		Percent:    p.Percent,
		Speed:      p.Speed,
		ETASeconds: p.ETASeconds,
		Title:      title,
	})
}

func (e *emitter) result(ok bool, outputPath, title, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc.Encode(Envelope{
		Type:       TypeResult,
		JobID:      e.jobID,
		OK:         ok,
		OutputPath: outputPath,
		Title:      title,
		Error:      errMsg,
	})
}

func runDownload(ctx context.Context, spec Spec, em *emitter) error {
	if spec.URL == "" {
		em.result(false, "", "", "worker spec has no URL")
		return fmt.Errorf("empty URL")
	}
	if spec.OutputDir == "" {
		em.result(false, "", "", "worker spec has no output directory")
		return fmt.Errorf("empty output dir")
	}
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		em.result(false, "", "", "cannot create output directory: "+err.Error())
		return err
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--restrict-filenames",
		"-P", spec.OutputDir,
		"-o", "%(title).200B_[%(id)s].%(ext)s",
	}
	if spec.FormatSpec != "" {
		args = append(args, "-f", spec.FormatSpec)
	}
	args = append(args, spec.URL)

	ytdlp := spec.YTDLPPath
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}
	cmd := exec.CommandContext(ctx, ytdlp, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		em.result(false, "", "", "setup stdout pipe: "+err.Error())
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		em.result(false, "", "", "setup stderr pipe: "+err.Error())
		return err
	}

	if err := cmd.Start(); err != nil {
		em.result(false, "", "", "start downloader: "+err.Error())
		return err
	}

	state := &downloadState{}
	stderrTail := newTailBuffer()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readOutput(stdoutPipe, state, em)
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 0, scannerBuffer), scannerMaxBuffer)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			stderrTail.Write(append(scanner.Bytes(), '\n'))
		}
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		// Killed by the orchestrator; it resolves the job as canceled
		// regardless of what we report.
		em.result(false, "", "", "download canceled")
		return ctx.Err()
	}

	if waitErr != nil {
		msg := "download tool failed: " + waitErr.Error()
		if tail := stderrTail.String(); tail != "" {
			msg += ": " + tail
		}
		em.result(false, "", "", msg)
		return waitErr
	}

	dest := state.destination()
	if dest == "" {
		em.result(false, "", "", "download finished but no output file was reported")
		return fmt.Errorf("no destination")
	}
	if abs, absErr := filepath.Abs(dest); absErr == nil {
		dest = abs
	}

	em.result(true, dest, TitleFromPath(dest), "")
	return nil
}

// downloadState tracks what the output readers have learned so far.
type downloadState struct {
	mu          sync.Mutex
	dest        string
	lastPercent float64
	titleSent   bool
}

func (s *downloadState) destination() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dest
}

// readOutput parses yt-dlp stdout lines into progress messages. Percent
// is kept monotonic: when yt-dlp starts a second stream (audio after
// video) its counter resets, and those regressions are suppressed.
func readOutput(r io.Reader, state *downloadState, em *emitter) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerBuffer), scannerMaxBuffer)
	scanner.Split(splitByNewlineOrCR)

	for scanner.Scan() {
		line := scanner.Text()

		if dest, ok := ParseDestination(line); ok {
			state.mu.Lock()
			state.dest = dest
			sendTitle := !state.titleSent
			state.titleSent = true
			percent := state.lastPercent
			state.mu.Unlock()

			if sendTitle {
				em.progress(Progress{Percent: percent, ETASeconds: -1}, TitleFromPath(dest))
			}
			continue
		}

		p, ok := ParseProgressLine(line)
		if !ok {
			continue
		}

		state.mu.Lock()
		if p.Percent < state.lastPercent {
			state.mu.Unlock()
			continue
		}
		state.lastPercent = p.Percent
		state.mu.Unlock()

		em.progress(p, "")
	}
}

// splitByNewlineOrCR treats both \n and \r as line terminators; yt-dlp
// rewrites its progress line with carriage returns unless --newline is
// honored.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
