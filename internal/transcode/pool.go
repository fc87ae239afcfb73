package transcode

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// Pool bounds the number of concurrently running ffmpeg children:
// transcoding is admission-controlled, not queued unboundedly.
type Pool struct {
	sem        *semaphore.Weighted
	ffmpegPath string
}

// NewPool builds a Pool that admits at most maxConcurrent simultaneous
// transcodes.
func NewPool(maxConcurrent int64, ffmpegPath string) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent), ffmpegPath: ffmpegPath}
}

// Run transcodes sourcePath starting at startMs into profile's format,
// streaming ffmpeg's stdout to w. It blocks until a pool slot is free (or ctx
// is canceled first), and the spawned process group is killed the moment ctx
// is done, so an aborted HTTP response cleans up its ffmpeg child promptly.
func (p *Pool) Run(ctx context.Context, sourcePath string, startMs uint64, profile Profile, w io.Writer) error {
	return p.RunRange(ctx, sourcePath, startMs, 0, profile, w)
}

// RunRange is Run with an optional duration bound (durationMs == 0 means
// "to end of file"), used to serve a virtual chapter's [start_ms, end_ms)
// slice through the same admission-controlled pipeline as any other
// transcoded request: virtual chapters are always streamed via the
// transcoding pipeline.
func (p *Pool) RunRange(ctx context.Context, sourcePath string, startMs, durationMs uint64, profile Profile, w io.Writer) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("transcode: admission: %w", err)
	}
	defer p.sem.Release(1)

	args := []string{"-nostdin", "-v", "error"}
	if startMs > 0 {
		args = append(args, "-ss", formatSeekSeconds(startMs))
	}
	if durationMs > 0 {
		args = append(args, "-t", formatSeekSeconds(durationMs))
	}
	args = append(args, "-i", sourcePath, "-vn")
	args = append(args, profile.Args()...)
	args = append(args, "pipe:1")

	cmd := exec.Command(p.ffmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = w

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("transcode: start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			killProcessGroup(cmd)
		case <-done:
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tail := stderr.String()
		if len(tail) > 2000 {
			tail = tail[len(tail)-2000:]
		}
		return fmt.Errorf("transcode: ffmpeg: %w: %s", err, tail)
	}
	return nil
}

// killProcessGroup sends SIGKILL to the whole process group so a canceled
// transcode can't leave an orphaned ffmpeg (or a helper it spawned) running.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		log.Printf("[transcode] getpgid %d: %v", cmd.Process.Pid, err)
		_ = cmd.Process.Kill()
		return
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil {
		log.Printf("[transcode] kill pgid %d: %v", pgid, err)
	}
}

func formatSeekSeconds(startMs uint64) string {
	return strconv.FormatFloat(float64(startMs)/1000, 'f', 3, 64)
}
