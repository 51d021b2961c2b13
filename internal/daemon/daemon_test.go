package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lipk/dirwatchd/internal/auditsrc"
	"github.com/lipk/dirwatchd/internal/config"
	"github.com/lipk/dirwatchd/internal/ipc"
)

// fakeIPCServer satisfies IPCServer without opening a real socket, so
// these tests don't depend on filesystem permissions for Unix sockets.
type fakeIPCServer struct {
	daemon   ipc.DaemonQuerier
	pipeline ipc.PipelineQuerier
}

func (f *fakeIPCServer) Listen(ctx context.Context, socketPath string) error {
	<-ctx.Done()
	return nil
}
func (f *fakeIPCServer) Stop() error                      { return nil }
func (f *fakeIPCServer) SetDaemon(d ipc.DaemonQuerier)     { f.daemon = d }
func (f *fakeIPCServer) SetPipeline(p ipc.PipelineQuerier) { f.pipeline = p }

func TestDaemonStartStop(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	outputPath := filepath.Join(t.TempDir(), "access.log")

	cfg := &config.Config{
		OutputPath: outputPath,
		Dirs:       []config.Root{{Path: root}},
	}
	src := auditsrc.NewFakeSource(nil)
	ipcSrv := &fakeIPCServer{}
	d := New(cfg, src, ipcSrv)

	done := make(chan error, 1)
	go func() { done <- d.Start() }()

	deadline := time.Now().Add(2 * time.Second)
	for !d.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !d.Running() {
		t.Fatal("daemon did not report Running() within timeout")
	}
	if !src.Opened || !src.Enabled || src.PID != os.Getpid() {
		t.Errorf("audit source not initialized as expected: %+v", src)
	}
	// root dir (1) + a.txt (4)
	if got, want := src.RuleCount(), 5; got != want {
		t.Errorf("installed rules = %d, want %d", got, want)
	}

	d.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down within timeout")
	}

	if d.Running() {
		t.Error("daemon still reports Running() after shutdown")
	}
	if !src.Closed {
		t.Error("audit source was not closed on shutdown")
	}
	if src.RuleCount() != 0 {
		t.Errorf("rules still installed after shutdown: %d", src.RuleCount())
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Errorf("output file not created: %v", err)
	}
}

func TestDaemonStartFailsOnUnopenableOutputPath(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		OutputPath: filepath.Join(root, "nonexistent-dir", "access.log"),
		Dirs:       []config.Root{{Path: root}},
	}
	src := auditsrc.NewFakeSource(nil)
	d := New(cfg, src, &fakeIPCServer{})

	if err := d.Start(); err == nil {
		t.Fatal("expected Start to fail when the output path's directory does not exist")
	}
}
