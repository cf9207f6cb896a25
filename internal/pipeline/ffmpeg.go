// Package pipeline wraps the external ffmpeg binary used to transcode
// dialogue audio for export.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

	DefaultTimeout  = 2 * time.Minute
	defaultProbeTTL = 5 * time.Minute
)

// ErrUnavailable is returned when no usable ffmpeg binary is installed.
var ErrUnavailable = errors.New("ffmpeg unavailable")

type FFmpeg interface {
	// ToMP3 transcodes a WAV file to MP3.
	ToMP3(ctx context.Context, wav []byte) ([]byte, error)
	Available(ctx context.Context) bool
}

type Config struct {
	Path    string        // ffmpeg binary; empty = look up "ffmpeg" on PATH
	Timeout time.Duration // per transcode
	Logger  *slog.Logger
}

// ExecFFmpeg runs ffmpeg as a subprocess, piping audio through stdin and
// stdout.
type ExecFFmpeg struct {
	cfg Config

	// Availability is probed with `ffmpeg -version` and cached.
	mu       sync.Mutex
	probedAt time.Time
	binary   string
	ok       bool
}

func NewExecFFmpeg(cfg Config) *ExecFFmpeg {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &ExecFFmpeg{cfg: cfg}
}

func (f *ExecFFmpeg) Available(ctx context.Context) bool {
	_, ok := f.resolve(ctx)
	return ok
}

func (f *ExecFFmpeg) resolve(ctx context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.probedAt.IsZero() && time.Since(f.probedAt) < defaultProbeTTL {
		return f.binary, f.ok
	}

	f.probedAt = time.Now()
	f.ok = false
	path, err := exec.LookPath(f.cfg.Path)
	if err != nil {
		f.cfg.Logger.Warn("ffmpeg not found", "path", f.cfg.Path)
		return "", false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(probeCtx, path, "-version").Run(); err != nil {
		f.cfg.Logger.Warn("ffmpeg probe failed", "path", path, "error", err)
		return "", false
	}
	f.binary, f.ok = path, true
	f.cfg.Logger.Info("ffmpeg available", "path", path)
	return path, true
}

func (f *ExecFFmpeg) ToMP3(ctx context.Context, wav []byte) ([]byte, error) {
	binary, ok := f.resolve(ctx)
	if !ok {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, binary,
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-codec:a", "libmp3lame", "-b:a", "128k",
		"-f", "mp3", "pipe:1",
	)
	var stdout, stderrBuf bytes.Buffer
	cmd.Stdin = bytes.NewReader(wav)
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		f.cfg.Logger.Warn("ffmpeg transcode failed",
			"exit_code", exitCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
		return nil, fmt.Errorf("ffmpeg exited %d: %s", exitCode, truncate(stderrBuf.String(), 512))
	}
	f.cfg.Logger.Debug("ffmpeg transcode finished",
		"in_bytes", len(wav), "out_bytes", stdout.Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return stdout.Bytes(), nil
}

// StubFFmpeg stands in when transcoding is disabled. Exports fall back
// to WAV.
type StubFFmpeg struct {
	logger *slog.Logger
}

func NewStubFFmpeg(logger *slog.Logger) *StubFFmpeg {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StubFFmpeg{logger: logger}
}

func (f *StubFFmpeg) ToMP3(ctx context.Context, wav []byte) ([]byte, error) {
	f.logger.Debug("ffmpeg stub: transcode requested", "bytes", len(wav))
	return nil, ErrUnavailable
}

func (f *StubFFmpeg) Available(ctx context.Context) bool {
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
