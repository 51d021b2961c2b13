// Package daemon manages the lifecycle of the dirwatchd background
// process: startup (open audit source, build the watch tree, open the
// output sink), the pipeline's run loop, and LIFO teardown on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lipk/dirwatchd/internal/auditsrc"
	"github.com/lipk/dirwatchd/internal/config"
	"github.com/lipk/dirwatchd/internal/ipc"
	"github.com/lipk/dirwatchd/internal/outlog"
	"github.com/lipk/dirwatchd/internal/pathval"
	"github.com/lipk/dirwatchd/internal/pipeline"
	"github.com/lipk/dirwatchd/internal/watch"
)

const socketPath = "/run/dirwatchd.sock"

// IPCServer is the interface the daemon uses to start/stop the IPC
// listener, kept narrow so tests can inject a fake in place of
// *ipc.Server.
type IPCServer interface {
	Listen(ctx context.Context, socketPath string) error
	Stop() error
	SetDaemon(d ipc.DaemonQuerier)
	SetPipeline(p ipc.PipelineQuerier)
}

// Daemon owns the audit source, the watch tree, the output sink, and
// the pipeline tying them together, plus the IPC listener used for CLI
// status/stop/ping queries.
type Daemon struct {
	cfg    *config.Config
	source auditsrc.Source
	ipc    IPCServer

	sink     *outlog.Writer
	roots    []pipeline.Root
	pipeline *pipeline.Pipeline

	startTime time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New creates a Daemon wired to cfg, an unopened audit source, and an
// IPC server (injected to avoid a circular import between daemon and
// ipc).
func New(cfg *config.Config, source auditsrc.Source, ipcServer IPCServer) *Daemon {
	return &Daemon{
		cfg:    cfg,
		source: source,
		ipc:    ipcServer,
	}
}

// Start opens the audit source, builds the initial watch tree by
// recursively walking every configured root, opens the output sink, and
// runs the pipeline loop until the context is cancelled by a signal or
// by Stop(). Startup failures (audit open, tree construction, output
// open) are fatal: Start tears down whatever it has already opened and
// returns the error.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already running")
	}
	d.mu.Unlock()

	fail := func(err error) error {
		_ = d.shutdown()
		return err
	}

	if err := d.source.Open(); err != nil {
		return fail(fmt.Errorf("daemon: open audit source: %w", err))
	}
	if err := d.source.SetPID(os.Getpid()); err != nil {
		return fail(fmt.Errorf("daemon: set audit pid: %w", err))
	}
	if err := d.source.SetEnabled(true); err != nil {
		return fail(fmt.Errorf("daemon: enable audit collection: %w", err))
	}

	sink, err := outlog.Open(d.cfg.OutputPath)
	if err != nil {
		return fail(fmt.Errorf("daemon: open output sink: %w", err))
	}
	d.sink = sink

	for _, root := range d.cfg.Dirs {
		tree, err := watch.New(d.source, root.Path)
		if err != nil {
			return fail(fmt.Errorf("daemon: build watch tree for %s: %w", root.Path, err))
		}
		d.roots = append(d.roots, pipeline.Root{Path: pathval.Parse(root.Path), Tree: tree})
	}

	diag := log.New(os.Stderr, "[dirwatchd] ", log.LstdFlags)
	d.pipeline = pipeline.New(d.source, d.roots, d.sink, diag)

	ctx, cancel := signalContext(context.Background())
	d.ctx = ctx
	d.cancel = cancel
	d.startTime = time.Now()

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	d.ipc.SetDaemon(d)
	d.ipc.SetPipeline(d.pipeline)

	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- d.ipc.Listen(d.ctx, socketPath)
	}()

	log.Printf("[dirwatchd] started (pid %d, output %s, roots %v)", os.Getpid(), d.cfg.OutputPath, d.pipeline.RootPaths())

	runErrCh := make(chan error, 1)
	go func() {
		for {
			err := d.pipeline.NextRecord(d.ctx)
			var parseErr *pipeline.ParseError
			switch {
			case errors.As(err, &parseErr):
				log.Printf("[dirwatchd] %v", parseErr)
			case err != nil:
				runErrCh <- err
				return
			}
			select {
			case <-d.ctx.Done():
				runErrCh <- nil
				return
			default:
			}
		}
	}()

	select {
	case <-d.ctx.Done():
		log.Println("[dirwatchd] shutdown signal received")
	case err := <-ipcErrCh:
		if err != nil {
			log.Printf("[dirwatchd] IPC server error: %v", err)
		}
	case err := <-runErrCh:
		if err != nil {
			log.Printf("[dirwatchd] pipeline error: %v", err)
		}
	}

	return d.shutdown()
}

// Stop triggers a graceful shutdown from outside (e.g. via the IPC
// "stop" command). A caught signal cancels the same context directly.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// shutdown runs the destructor cascade in the order the original
// process described, after first stopping the IPC listener: output
// sink, then the watch tree (each
// DirectoryWatch recursively releases its Watches), then the audit
// source. Failures at any step are logged and swallowed; they do not
// change the exit code.
func (d *Daemon) shutdown() error {
	log.Println("[dirwatchd] shutting down")

	if d.ipc != nil {
		if err := d.ipc.Stop(); err != nil {
			log.Printf("[dirwatchd] ipc stop: %v", err)
		}
	}

	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			log.Printf("[dirwatchd] output sink close: %v", err)
		}
	}

	for _, root := range d.roots {
		if err := root.Tree.Close(); err != nil {
			log.Printf("[dirwatchd] tree teardown for %s: %v", root.Path.String(true), err)
		}
	}

	if err := d.source.Close(); err != nil {
		log.Printf("[dirwatchd] audit source close: %v", err)
	}

	_ = os.Remove(socketPath)

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	log.Println("[dirwatchd] stopped")
	return nil
}

// Running reports whether the daemon's run loop is active.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// Config returns the daemon's configuration.
func (d *Daemon) Config() *config.Config {
	return d.cfg
}
