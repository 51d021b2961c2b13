package pipeline

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/lipk/dirwatchd/internal/auditsrc"
	"github.com/lipk/dirwatchd/internal/outlog"
	"github.com/lipk/dirwatchd/internal/pathval"
	"github.com/lipk/dirwatchd/internal/watch"
)

func newTestPipeline(t *testing.T, rootDir string, queue []auditsrc.Raw) (*Pipeline, *auditsrc.FakeSource, string) {
	t.Helper()
	src := auditsrc.NewFakeSource(queue)
	tree, err := watch.New(src, rootDir)
	if err != nil {
		t.Fatalf("watch.New: %v", err)
	}

	logPath := filepath.Join(t.TempDir(), "access.log")
	sink, err := outlog.Open(logPath)
	if err != nil {
		t.Fatalf("outlog.Open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	roots := []Root{{Path: pathval.Parse(rootDir), Tree: tree}}
	p := New(src, roots, sink, log.New(os.Stderr, "", 0))
	return p, src, logPath
}

func TestNextRecordCanonicalWriteEvent(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	queue := []auditsrc.Raw{
		{Type: typeSyscall, Text: `audit(1700000000.123:42): key="w` + filepath.Join(root, "file") + `" uid=1000 pid=4321`},
		{Type: typeCWD, Text: `audit(1700000000.123:42): cwd="/tmp"`},
		{Type: typePath, Text: `audit(1700000000.123:42): name="` + filepath.Join(root, "file") + `" nametype=NORMAL`},
		{Type: typeEOE, Text: `audit(1700000000.123:42): `},
	}
	p, _, logPath := newTestPipeline(t, root, queue)

	ctx := context.Background()
	for i := 0; i < len(queue); i++ {
		if err := p.NextRecord(ctx); err != nil {
			t.Fatalf("NextRecord[%d]: %v", i, err)
		}
	}

	if stats := p.Stats(); stats.Processed != 1 || stats.Pending != 0 {
		t.Errorf("stats = %+v", stats)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "1700000000\t" + filepath.Join(root, "file") + "\twrite\t4321\t1000\n"
	if string(data) != want {
		t.Errorf("log = %q, want %q", data, want)
	}
}

func TestNextRecordCreateGrowsTreeAndInstallsRules(t *testing.T) {
	root := t.TempDir()
	newPath := filepath.Join(root, "sub")
	// The directory must exist on disk before WatchPath stats it, since the
	// audit record only announces the name, not the bytes.
	if err := os.Mkdir(newPath, 0o755); err != nil {
		t.Fatal(err)
	}

	queue := []auditsrc.Raw{
		{Type: typeSyscall, Text: `audit(1.0:7): key="w` + root + `" uid=0 pid=1`},
		{Type: typeCWD, Text: `audit(1.0:7): cwd="` + root + `"`},
		{Type: typePath, Text: `audit(1.0:7): name="sub" nametype=CREATE`},
		{Type: typeEOE, Text: `audit(1.0:7): `},
	}
	p, src, logPath := newTestPipeline(t, root, queue)
	before := src.RuleCount()

	ctx := context.Background()
	for i := 0; i < len(queue); i++ {
		if err := p.NextRecord(ctx); err != nil {
			t.Fatalf("NextRecord[%d]: %v", i, err)
		}
	}

	if got, want := src.RuleCount(), before+1; got != want {
		t.Errorf("installed rules = %d, want %d", got, want)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "1\t" + newPath + "\tcreate\t1\t0\n"
	if string(data) != want {
		t.Errorf("log = %q, want %q", data, want)
	}
}

func TestNextRecordDiscardsOutOfRangeTypeCode(t *testing.T) {
	root := t.TempDir()
	queue := []auditsrc.Raw{
		{Type: 42, Text: "garbage"},
	}
	p, _, _ := newTestPipeline(t, root, queue)

	if err := p.NextRecord(context.Background()); err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if stats := p.Stats(); stats.Discarded != 0 || stats.Processed != 0 {
		t.Errorf("stats = %+v, out-of-range codes should be silently skipped, not counted as discarded", stats)
	}
}

func TestNextRecordMissingUIDDiscardsEvent(t *testing.T) {
	root := t.TempDir()
	queue := []auditsrc.Raw{
		{Type: typeSyscall, Text: `audit(1.0:1): key="w` + root + `"`},
	}
	p, _, _ := newTestPipeline(t, root, queue)

	if err := p.NextRecord(context.Background()); err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if stats := p.Stats(); stats.Pending != 0 {
		t.Errorf("stats = %+v, event missing uid/pid should complete (and then resolve to zero actions) rather than stay pending", stats)
	}
}

func TestNextRecordMalformedRecordIsNonFatal(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	queue := []auditsrc.Raw{
		{Type: typeSyscall, Text: `audit(x)`},
		{Type: typeSyscall, Text: `audit(1700000000.123:42): key="w` + filepath.Join(root, "file") + `" uid=1000 pid=4321`},
		{Type: typeCWD, Text: `audit(1700000000.123:42): cwd="/tmp"`},
		{Type: typePath, Text: `audit(1700000000.123:42): name="` + filepath.Join(root, "file") + `" nametype=NORMAL`},
		{Type: typeEOE, Text: `audit(1700000000.123:42): `},
	}
	p, _, logPath := newTestPipeline(t, root, queue)
	ctx := context.Background()

	err := p.NextRecord(ctx)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("NextRecord[0] error = %v, want a *ParseError", err)
	}
	if stats := p.Stats(); stats.Discarded != 1 {
		t.Errorf("stats after malformed record = %+v, want Discarded = 1", stats)
	}

	for i := 1; i < len(queue); i++ {
		if err := p.NextRecord(ctx); err != nil {
			t.Fatalf("NextRecord[%d]: %v", i, err)
		}
	}
	if stats := p.Stats(); stats.Processed != 1 {
		t.Errorf("stats = %+v, the following well-formed event should still be processed", stats)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "1700000000\t" + filepath.Join(root, "file") + "\twrite\t4321\t1000\n"
	if string(data) != want {
		t.Errorf("log = %q, want %q", data, want)
	}
}

func TestNextRecordActionOutsideAnyRootIsSkipped(t *testing.T) {
	root := t.TempDir()
	queue := []auditsrc.Raw{
		{Type: typeSyscall, Text: `audit(1.0:1): key="w/elsewhere/file" uid=0 pid=1`},
		{Type: typePath, Text: `audit(1.0:1): name="/elsewhere/file" nametype=NORMAL`},
		{Type: typeEOE, Text: `audit(1.0:1): `},
	}
	p, _, logPath := newTestPipeline(t, root, queue)

	ctx := context.Background()
	for i := 0; i < len(queue); i++ {
		if err := p.NextRecord(ctx); err != nil {
			t.Fatalf("NextRecord[%d]: %v", i, err)
		}
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("log = %q, want empty (path outside any configured root)", data)
	}
}
