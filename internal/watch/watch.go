// Package watch maintains the live tree of audit rules that mirrors a
// watched filesystem subtree: one Watch per watched file, one
// DirectoryWatch per watched directory, growing and shrinking as files
// and directories are created and removed underneath it.
package watch

import (
	"fmt"

	"github.com/lipk/dirwatchd/internal/auditsrc"
)

// Watch owns the audit rule(s) backing one watched file or one
// directory's own entry (as opposed to its children). A directory watch
// installs a single write-permission rule; a file watch installs one
// rule per permission class so every access type is distinguishable.
type Watch struct {
	source auditsrc.Source
	rules  []auditsrc.RuleHandle
	isDir  bool
	closed bool
}

// newWatch installs the rules for path and returns the owning Watch.
// isDir selects directory-class vs file-class watching, matching the
// original's Watch::create.
func newWatch(source auditsrc.Source, path string, isDir bool) (*Watch, error) {
	w := &Watch{source: source, isDir: isDir}

	if err := w.addRule(path, "w"+path, auditsrc.PermWrite, isDir); err != nil {
		w.Close()
		return nil, err
	}
	if !isDir {
		classes := []struct {
			prefix string
			perm   uint32
		}{
			{"r", auditsrc.PermRead},
			{"x", auditsrc.PermExec},
			{"a", auditsrc.PermAttr},
		}
		for _, c := range classes {
			if err := w.addRule(path, c.prefix+path, c.perm, isDir); err != nil {
				w.Close()
				return nil, err
			}
		}
	}
	return w, nil
}

func (w *Watch) addRule(path, key string, perm uint32, isDir bool) error {
	handle, err := w.source.AddRule(auditsrc.RuleSpec{
		Path:       path,
		IsDir:      isDir,
		Permission: perm,
		Key:        key,
	})
	if err != nil {
		return fmt.Errorf("watch: install rule for %s: %w", path, err)
	}
	w.rules = append(w.rules, handle)
	return nil
}

// IsDirectory reports whether this Watch was created for a directory
// entry rather than a file.
func (w *Watch) IsDirectory() bool { return w.isDir }

// Close removes every rule this Watch installed. It is safe to call
// more than once and safe to call after a partial failure during
// creation.
func (w *Watch) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var firstErr error
	for _, r := range w.rules {
		if err := w.source.DeleteRule(r); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("watch: delete rule: %w", err)
		}
	}
	w.rules = nil
	return firstErr
}
