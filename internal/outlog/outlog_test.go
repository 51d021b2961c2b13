package outlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.WriteLine(1700000000, "/home/alice/file", "write", "4321", "1000"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "1700000000\t/home/alice/file\twrite\t4321\t1000\n"
	if string(data) != want {
		t.Errorf("contents = %q, want %q", data, want)
	}
}

func TestWriteLineAppendsWithoutTruncating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	if err := os.WriteFile(path, []byte("existing\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.WriteLine(1, "/a", "read", "1", "0"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "existing\n1\t/a\tread\t1\t0\n"
	if string(data) != want {
		t.Errorf("contents = %q, want %q", data, want)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
