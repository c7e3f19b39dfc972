package steamcmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a unix shell")
	}
	path := filepath.Join(t.TempDir(), "steamcmd.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func collect(t *testing.T, events <-chan Event) ([]string, Event) {
	t.Helper()
	var lines []string
	var last Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if !last.Terminal() {
					t.Fatal("stream closed without terminal event")
				}
				return lines, last
			}
			if last.Terminal() {
				t.Fatalf("event after terminal event: %+v", ev)
			}
			if !ev.Terminal() {
				lines = append(lines, ev.Line)
			}
			last = ev
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}
}

func TestRunSuccessStreamsLinesInOrder(t *testing.T) {
	tool := writeStub(t, `echo "args: $*"
echo "Downloading item $7 ..."
echo "warning on stderr" 1>&2
printf 'carriage\r\n'
echo "Success. Downloaded item $7"
`)
	workDir := filepath.Join(t.TempDir(), "work")
	sup := &Supervisor{}

	lines, last := collect(t, sup.Run(context.Background(), Invocation{
		ToolPath:       tool,
		ContentScopeID: "1942280",
		ItemID:         "42",
		WorkDir:        workDir,
	}))

	if last.Err != nil {
		t.Fatalf("expected success, got %v", last.Err)
	}
	if last.Outcome == nil || !last.Outcome.Succeeded || last.Outcome.ExitCode != 0 {
		t.Fatalf("unexpected outcome %+v", last.Outcome)
	}
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), lines)
	}
	wantArgs := "args: +force_install_dir " + workDir + " +login anonymous +workshop_download_item 1942280 42 +quit"
	if lines[0] != wantArgs {
		t.Fatalf("unexpected args line:\n got %q\nwant %q", lines[0], wantArgs)
	}
	if lines[1] != "Downloading item 42 ..." || lines[4] != "Success. Downloaded item 42" {
		t.Fatalf("unexpected order: %q", lines)
	}
	if lines[3] != "carriage" {
		t.Fatalf("expected trailing CR stripped, got %q", lines[3])
	}
	if strings.Join(last.Outcome.LogLines, "\n") != strings.Join(lines, "\n") {
		t.Fatal("outcome log lines differ from streamed lines")
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		t.Fatalf("expected work dir created: %v", err)
	}
}

func TestRunRunsInWorkDir(t *testing.T) {
	tool := writeStub(t, "pwd\n")
	workDir := t.TempDir()
	sup := &Supervisor{}

	lines, last := collect(t, sup.Run(context.Background(), Invocation{ToolPath: tool, ContentScopeID: "1", ItemID: "2", WorkDir: workDir}))
	if last.Err != nil {
		t.Fatal(last.Err)
	}
	resolved, _ := filepath.EvalSymlinks(workDir)
	got, _ := filepath.EvalSymlinks(lines[0])
	if got != resolved {
		t.Fatalf("expected cwd %s, got %s", resolved, got)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	tool := writeStub(t, "echo \"ERROR! Download item $6 failed (Failure).\"\nexit 3\n")
	sup := &Supervisor{}

	lines, last := collect(t, sup.Run(context.Background(), Invocation{ToolPath: tool, ContentScopeID: "1", ItemID: "9", WorkDir: t.TempDir()}))
	if len(lines) != 1 {
		t.Fatalf("expected the error line before the outcome, got %q", lines)
	}
	if !errors.Is(last.Err, ErrNonZeroExit) {
		t.Fatalf("expected ErrNonZeroExit, got %v", last.Err)
	}
	var perr *ProcessError
	if !errors.As(last.Err, &perr) || perr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", perr)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	sup := &Supervisor{}
	lines, last := collect(t, sup.Run(context.Background(), Invocation{
		ToolPath: filepath.Join(t.TempDir(), "missing-steamcmd"),
		ItemID:   "1",
		WorkDir:  t.TempDir(),
	}))
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %q", lines)
	}
	if !errors.Is(last.Err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", last.Err)
	}
}

func TestRunWorkDirFailureIsSpawnError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sup := &Supervisor{}
	_, last := collect(t, sup.Run(context.Background(), Invocation{ToolPath: "/bin/true", ItemID: "1", WorkDir: filepath.Join(blocker, "sub")}))
	if !errors.Is(last.Err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", last.Err)
	}
}

func TestRunCancellationTerminatesProcess(t *testing.T) {
	tool := writeStub(t, "echo started\nwhile true; do sleep 0.1; done\n")
	sup := &Supervisor{GracePeriod: 500 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := sup.Run(ctx, Invocation{ToolPath: tool, ContentScopeID: "1", ItemID: "5", WorkDir: t.TempDir()})
	first := <-events
	if first.Line != "started" {
		t.Fatalf("expected started line, got %+v", first)
	}
	cancel()

	_, last := collect(t, events)
	if !errors.Is(last.Err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", last.Err)
	}
	if !errors.Is(last.Err, context.Canceled) {
		t.Fatalf("expected context cause, got %v", last.Err)
	}
}

func TestRunWritesTranscript(t *testing.T) {
	tool := writeStub(t, "echo one\necho two\n")
	logs := filepath.Join(t.TempDir(), "logs")
	sup := &Supervisor{LogsDir: logs}

	_, last := collect(t, sup.Run(context.Background(), Invocation{ToolPath: tool, ContentScopeID: "1", ItemID: "77", WorkDir: t.TempDir()}))
	if last.Err != nil {
		t.Fatal(last.Err)
	}
	data, err := os.ReadFile(filepath.Join(logs, "steamcmd_77.log"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Fatalf("unexpected transcript %q", data)
	}
}

func TestArgsOrder(t *testing.T) {
	got := strings.Join(Args("/w", "10", "20"), " ")
	want := "+force_install_dir /w +login anonymous +workshop_download_item 10 20 +quit"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
