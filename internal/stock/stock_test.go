package stock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/actiontree/internal/scheduler"
)

func newKit() *Kit {
	return &Kit{
		Locks:     NewPathLocks(),
		Processes: NewProcessManager(),
		Breakers:  NewCircuitBreakerRegistry(zerolog.Nop()),
	}
}

func execute(t *testing.T, root *scheduler.Action) *scheduler.Report {
	t.Helper()
	report, err := scheduler.Run(context.Background(), root, scheduler.Options{Jobs: 4})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return report
}

func TestLabels(t *testing.T) {
	kit := newKit()
	tests := []struct {
		action *scheduler.Action
		want   string
	}{
		{Null(), ""},
		{Sleep(1500 * time.Millisecond), "sleep 1.5s"},
		{kit.TouchFile("a/b"), "touch a/b"},
		{kit.CreateDirectory("a"), "mkdir a"},
		{kit.DeleteFile("a/b"), "rm a/b"},
		{kit.CopyFile("a/b", "c"), "cp a/b c"},
		{kit.CallSubprocess("make", "-j", "4"), "make -j 4"},
	}

	for _, tt := range tests {
		if got := tt.action.Label(); got != tt.want {
			t.Errorf("expected label %q, got %q", tt.want, got)
		}
	}
}

func TestFilesystemActions(t *testing.T) {
	dir := t.TempDir()
	kit := newKit()

	sub := filepath.Join(dir, "x", "y")
	mkdir := kit.CreateDirectory(sub)
	touch := kit.TouchFile(filepath.Join(sub, "f"))
	touch.DependOn(mkdir)
	cp := kit.CopyFile(filepath.Join(sub, "f"), filepath.Join(dir, "g"))
	cp.DependOn(touch)
	rm := kit.DeleteFile(filepath.Join(sub, "f"))
	rm.DependOn(cp)

	execute(t, rm)

	if _, err := os.Stat(filepath.Join(sub, "f")); !os.IsNotExist(err) {
		t.Errorf("expected f to be deleted, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "g")); err != nil {
		t.Errorf("expected copy g to exist: %v", err)
	}
}

func TestCreateDirectoryExisting(t *testing.T) {
	execute(t, newKit().CreateDirectory(t.TempDir()))
}

func TestCreateDirectoryOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := scheduler.Execute(context.Background(), newKit().CreateDirectory(path), scheduler.Options{})
	if err == nil {
		t.Error("expected an error when a file is in the way")
	}
}

func TestDeleteMissingFile(t *testing.T) {
	execute(t, newKit().DeleteFile(filepath.Join(t.TempDir(), "missing")))
}

func TestTouchUpdatesModificationTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	execute(t, newKit().TouchFile(path))

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().After(old.Add(time.Minute)) {
		t.Errorf("modification time not updated: %v", info.ModTime())
	}
	if data, _ := os.ReadFile(path); string(data) != "keep" {
		t.Errorf("touch changed the content: %q", data)
	}
}

func TestTouchMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "f")
	if _, err := scheduler.Execute(context.Background(), newKit().TouchFile(path), scheduler.Options{}); err == nil {
		t.Error("expected an error when the directory is missing")
	}
}

func TestCopyIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("content"), 0600); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst")
	if err := os.Mkdir(dst, 0755); err != nil {
		t.Fatal(err)
	}

	execute(t, newKit().CopyFile(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "src.txt"))
	if err != nil || string(data) != "content" {
		t.Errorf("unexpected copy %q, %v", data, err)
	}
	if info, _ := os.Stat(filepath.Join(dst, "src.txt")); info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestCopyIntoDirectoryLocksTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst")
	if err := os.Mkdir(dst, 0755); err != nil {
		t.Fatal(err)
	}

	kit := newKit()
	release := kit.Locks.Acquire(filepath.Join(dst, "src.txt"))

	done := make(chan error, 1)
	go func() {
		_, err := scheduler.Run(context.Background(), kit.CopyFile(src, dst), scheduler.Options{})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("copy into a directory ignored the lock on the file it writes")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("copy failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("copy did not finish after the lock was released")
	}
}

func TestCopyTarget(t *testing.T) {
	dir := t.TempDir()
	if got := copyTarget("a/src", dir); got != filepath.Join(dir, "src") {
		t.Errorf("directory destination: got %q", got)
	}
	file := filepath.Join(dir, "file")
	if got := copyTarget("a/src", file); got != file {
		t.Errorf("file destination: got %q", got)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	report, err := scheduler.Run(ctx, Sleep(time.Hour), scheduler.Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep ignored the context")
	}
	if report.Status(report.Graph().Root()) != scheduler.StatusFailed {
		t.Errorf("expected the sleep to fail, got %s", report.Status(report.Graph().Root()))
	}
}

func TestCallSubprocessStreamsOutput(t *testing.T) {
	kit := newKit()
	action := kit.CallSubprocess("sh", "-c", "echo out; echo err >&2")

	report := execute(t, action)

	s, _ := report.Get(action)
	for _, want := range []string{"out\n", "err\n"} {
		if !strings.Contains(string(s.Output), want) {
			t.Errorf("expected output to contain %q, got %q", want, s.Output)
		}
	}
	if kit.Processes.Count() != 0 {
		t.Errorf("process still tracked after completion")
	}
}

func TestCallSubprocessFailure(t *testing.T) {
	kit := newKit()
	action := kit.CallSubprocess("sh", "-c", "exit 2")

	_, err := scheduler.Execute(context.Background(), action, scheduler.Options{})
	if err == nil || !strings.Contains(err.Error(), "exit status 2") {
		t.Errorf("expected exit status 2, got %v", err)
	}
}

func TestCallSubprocessBreakerOpens(t *testing.T) {
	kit := newKit()
	kit.Breakers.Trip = 1

	first := kit.CallSubprocess("false")
	second := kit.CallSubprocess("false")
	second.DependOn(first)

	report, _ := scheduler.Run(context.Background(), second, scheduler.Options{})
	if report.Status(first) != scheduler.StatusFailed {
		t.Fatalf("expected first call to fail, got %s", report.Status(first))
	}

	// The breaker is shared with later actions calling the same program
	_, err := scheduler.Execute(context.Background(), kit.CallSubprocess("false"), scheduler.Options{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
}

func TestZeroKit(t *testing.T) {
	var kit Kit
	dir := filepath.Join(t.TempDir(), "d")
	root := kit.TouchFile(filepath.Join(dir, "f"))
	root.DependOn(kit.CreateDirectory(dir))

	execute(t, root)

	if _, err := scheduler.Execute(context.Background(), kit.CallSubprocess("true"), scheduler.Options{}); err != nil {
		t.Errorf("zero kit subprocess failed: %v", err)
	}
}
