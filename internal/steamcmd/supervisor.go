package steamcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"workshopdl/internal/logx"
)

// DefaultGracePeriod is how long a cancelled process gets to exit after the
// interrupt before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Invocation identifies one workshop item download.
type Invocation struct {
	ToolPath       string
	ContentScopeID string
	ItemID         string
	WorkDir        string
}

// Outcome is the terminal report of a process that ran to exit.
type Outcome struct {
	ExitCode  int
	Succeeded bool
	LogLines  []string
}

// Event is one element of a run's stream. Exactly one of Line, Outcome or
// Err is meaningful; the stream ends with a single event for which Terminal
// reports true.
type Event struct {
	Line    string
	Outcome *Outcome
	Err     error
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Outcome != nil || e.Err != nil
}

// CommandFunc builds the command for a run. Tests swap in stub executables.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Supervisor launches SteamCMD once per item and streams its output.
type Supervisor struct {
	Command CommandFunc
	// LogsDir, when set, receives a steamcmd_<item>.log transcript per run.
	LogsDir     string
	GracePeriod time.Duration
	Logger      *zap.Logger
}

// Args returns the fixed SteamCMD argument list for an invocation.
func Args(workDir, scope, item string) []string {
	return []string{
		"+force_install_dir", workDir,
		"+login", "anonymous",
		"+workshop_download_item", scope, item,
		"+quit",
	}
}

// Run starts the process and returns its event stream. Lines arrive in
// emission order with stdout and stderr merged; the terminal event follows
// the last line. Callers must drain the channel until it closes.
func (s *Supervisor) Run(ctx context.Context, inv Invocation) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		s.run(ctx, inv, events)
	}()
	return events
}

func (s *Supervisor) run(ctx context.Context, inv Invocation, events chan<- Event) {
	logger := logx.OrNop(s.Logger).Named("steamcmd").With(zap.String("item", inv.ItemID))
	fail := func(kind error, code int, err error) {
		events <- Event{Err: &ProcessError{Kind: kind, ItemID: inv.ItemID, ExitCode: code, Err: err}}
	}

	workDir, err := filepath.Abs(inv.WorkDir)
	if err != nil {
		fail(ErrSpawn, -1, fmt.Errorf("resolve work dir: %w", err))
		return
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		fail(ErrSpawn, -1, fmt.Errorf("create work dir: %w", err))
		return
	}

	command := s.Command
	if command == nil {
		command = exec.CommandContext
	}
	cmd := command(ctx, inv.ToolPath, Args(workDir, inv.ContentScopeID, inv.ItemID)...)
	cmd.Dir = workDir
	if cmd.Cancel != nil {
		cmd.Cancel = func() error {
			if runtime.GOOS == "windows" {
				return cmd.Process.Kill()
			}
			return cmd.Process.Signal(os.Interrupt)
		}
	}
	cmd.WaitDelay = s.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	transcript := s.openTranscript(inv.ItemID, logger)
	if transcript != nil {
		defer transcript.Close()
	}

	logger.Info("starting steamcmd", zap.String("tool", inv.ToolPath), zap.String("work_dir", workDir))
	if err := cmd.Start(); err != nil {
		pw.Close()
		if ctx.Err() != nil {
			fail(ErrCancelled, -1, ctx.Err())
			return
		}
		fail(ErrSpawn, -1, err)
		return
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	var lines []string
	reader := bufio.NewReader(pr)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			lines = append(lines, line)
			if transcript != nil {
				fmt.Fprintln(transcript, line)
			}
			events <- Event{Line: line}
		}
		if readErr != nil {
			break
		}
	}

	err = <-waitErr
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() != nil && (err != nil || code != 0):
		logger.Warn("steamcmd cancelled", zap.Int("exit_code", code))
		fail(ErrCancelled, code, ctx.Err())
	case err == nil || (errors.Is(err, exec.ErrWaitDelay) && code == 0):
		logger.Info("steamcmd finished", zap.Int("lines", len(lines)))
		events <- Event{Outcome: &Outcome{ExitCode: 0, Succeeded: true, LogLines: lines}}
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			logger.Error("steamcmd wait failed", zap.Error(err))
			fail(ErrNonZeroExit, code, err)
			return
		}
		logger.Warn("steamcmd exited with non-zero status", zap.Int("exit_code", code))
		fail(ErrNonZeroExit, code, nil)
	}
}

func (s *Supervisor) openTranscript(item string, logger *zap.Logger) io.WriteCloser {
	if s.LogsDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.LogsDir, 0o755); err != nil {
		logger.Warn("create logs dir", zap.Error(err))
		return nil
	}
	path := filepath.Join(s.LogsDir, "steamcmd_"+item+".log")
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("open transcript", zap.String("path", path), zap.Error(err))
		return nil
	}
	return f
}
