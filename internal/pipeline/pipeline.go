// Package pipeline wires the audit source, the event accumulator, and
// the watch tree together: it pulls raw audit records, reassembles them
// into events, resolves the effective path/action pairs, reconciles the
// watch tree, and writes the access log.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/lipk/dirwatchd/internal/accum"
	"github.com/lipk/dirwatchd/internal/auditparse"
	"github.com/lipk/dirwatchd/internal/auditsrc"
	"github.com/lipk/dirwatchd/internal/outlog"
	"github.com/lipk/dirwatchd/internal/pathval"
	"github.com/lipk/dirwatchd/internal/watch"
)

// Record type codes recognized by the audit subsystem, per
// include/linux/audit.h. Codes outside [minTypeCode, maxTypeCode] are
// garbage and dropped without being parsed.
const (
	typeSyscall = 1300
	typePath    = 1302
	typeCWD     = 1307
	typeEOE     = 1320

	minTypeCode = 1000
	maxTypeCode = 1807
)

// Root pairs one configured watch root with its live DirectoryWatch.
type Root struct {
	Path pathval.Path
	Tree *watch.DirectoryWatch
}

// Pipeline is the daemon's single-threaded event loop state: the audit
// source, the configured roots, the in-flight event table, and the
// output sink. It owns no goroutines of its own; NextRecord is driven by
// the caller's loop.
type Pipeline struct {
	source auditsrc.Source
	roots  []Root
	sink   *outlog.Writer
	logger *log.Logger

	pending map[int64]*accum.Event

	processed int
	discarded int
}

// New builds a Pipeline over an already-open audit source, the given
// roots (in configured order — root lookup is first-match-wins), and an
// already-open output sink. logger receives diagnostics for per-record
// failures, prefixed by the caller.
func New(source auditsrc.Source, roots []Root, sink *outlog.Writer, logger *log.Logger) *Pipeline {
	return &Pipeline{
		source:  source,
		roots:   roots,
		sink:    sink,
		logger:  logger,
		pending: map[int64]*accum.Event{},
	}
}

// ParseError reports that a raw record's body failed to parse. Unlike
// every other error NextRecord can return, this one is not a sign that
// the audit source itself is broken: the caller is expected to log it
// and keep pulling records (S5), rather than treat it as fatal.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("pipeline: parse record: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// NextRecord pulls and processes exactly one raw record. It returns a
// *ParseError when the record's body fails to parse (the caller should
// log it and continue); any other error means the audit source itself
// failed, including context cancellation, and the caller should stop.
// Errors while resolving or acting on an already-parsed event are
// logged here and swallowed, so one bad event does not halt the daemon.
func (p *Pipeline) NextRecord(ctx context.Context) error {
	raw, err := p.source.NextRaw(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: read record: %w", err)
	}

	if raw.Type < minTypeCode || raw.Type > maxTypeCode {
		return nil
	}

	rec, err := auditparse.Parse(raw.Text)
	if err != nil {
		p.discarded++
		return &ParseError{Err: err}
	}

	rt := classify(raw.Type)
	seq := rec.SequenceNumber

	event, ok := p.pending[seq]
	if !ok {
		if rt != accum.Syscall {
			return nil
		}
		event = accum.New()
		p.pending[seq] = event
	}

	if complete := event.Absorb(rt, rec); complete {
		delete(p.pending, seq)
		if err := p.process(event); err != nil {
			p.logf("process event: %v", err)
			p.discarded++
		} else {
			p.processed++
		}
	}
	return nil
}

// classify maps an audit type code to the accum.RecordType the
// accumulator understands; everything else is treated as Other and left
// for the accumulator to ignore.
func classify(typeCode int) accum.RecordType {
	switch typeCode {
	case typeSyscall:
		return accum.Syscall
	case typePath:
		return accum.Path
	case typeCWD:
		return accum.Cwd
	case typeEOE:
		return accum.End
	default:
		return accum.Other
	}
}

// process resolves event's actions and, for each one, routes it to the
// owning root, mutates the watch tree for Create/Delete, and appends a
// log line.
func (p *Pipeline) process(event *accum.Event) error {
	actions, err := event.CalculateActions()
	if err != nil {
		return fmt.Errorf("resolve actions: %w", err)
	}

	for _, action := range actions {
		path := pathval.Parse(action.Path)

		root := p.findRoot(path)
		if root == nil {
			continue
		}

		rel, err := root.Tree.RelPath(path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", action.Path, err)
		}

		switch action.AccessType {
		case accum.Create:
			if err := root.Tree.WatchPath(rel); err != nil {
				return fmt.Errorf("watch %s: %w", action.Path, err)
			}
		case accum.Delete:
			if err := root.Tree.UnwatchPath(rel); err != nil {
				return fmt.Errorf("unwatch %s: %w", action.Path, err)
			}
		}

		if err := p.sink.WriteLine(event.Timestamp(), action.Path, action.AccessType.String(), event.PID(), event.UID()); err != nil {
			return fmt.Errorf("write log line: %w", err)
		}
	}
	return nil
}

// findRoot returns the first configured root containing path, or nil.
func (p *Pipeline) findRoot(path pathval.Path) *Root {
	for i := range p.roots {
		if p.roots[i].Tree.Contains(path) {
			return &p.roots[i]
		}
	}
	return nil
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

// Stats reports pending/processed/discarded event counts for status
// reporting over IPC.
type Stats struct {
	Pending   int
	Processed int
	Discarded int
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Pending:   len(p.pending),
		Processed: p.processed,
		Discarded: p.discarded,
	}
}

// PendingCount, ProcessedCount and DiscardedCount expose the same
// counters as Stats one field at a time, so callers like the IPC server
// can depend on a narrow interface instead of the Stats type.
func (p *Pipeline) PendingCount() int   { return len(p.pending) }
func (p *Pipeline) ProcessedCount() int { return p.processed }
func (p *Pipeline) DiscardedCount() int { return p.discarded }

// RuleCount sums the installed audit rule count across every root.
func (p *Pipeline) RuleCount() int {
	n := 0
	for _, r := range p.roots {
		n += r.Tree.RuleCount()
	}
	return n
}

// RootPaths returns the configured root paths in lookup order.
func (p *Pipeline) RootPaths() []string {
	out := make([]string, len(p.roots))
	for i, r := range p.roots {
		out[i] = r.Path.String(true)
	}
	return out
}
