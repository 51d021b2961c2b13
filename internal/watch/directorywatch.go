package watch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lipk/dirwatchd/internal/auditsrc"
	"github.com/lipk/dirwatchd/internal/pathval"
)

// DirectoryWatch is one node of the live watch tree: it owns the rules
// watching the directory itself, plus a Watch per watched file child and
// a DirectoryWatch per watched subdirectory child, recreated on demand as
// the real filesystem subtree grows.
type DirectoryWatch struct {
	source auditsrc.Source
	self   *Watch
	files  map[string]*Watch
	dirs   map[string]*DirectoryWatch
	path   pathval.Path
}

// New walks path recursively and installs a Watch or DirectoryWatch for
// every regular file and directory found underneath it. A symlink is
// watched according to the type of whatever it resolves to (a symlink
// to a directory becomes a DirectoryWatch, a symlink to a file becomes
// a Watch), matching the original's use of directory_entry::is_regular_file
// and is_directory, both of which follow symlinks; anything else
// (sockets, devices, broken links) is left unwatched.
func New(source auditsrc.Source, path string) (*DirectoryWatch, error) {
	self, err := newWatch(source, path, true)
	if err != nil {
		return nil, fmt.Errorf("watch: create directory watch for %s: %w", path, err)
	}

	dw := &DirectoryWatch{
		source: source,
		self:   self,
		files:  map[string]*Watch{},
		dirs:   map[string]*DirectoryWatch{},
		path:   pathval.Parse(path),
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		dw.Close()
		return nil, fmt.Errorf("watch: list %s: %w", path, err)
	}

	for _, entry := range entries {
		childPath := filepath.Join(path, entry.Name())
		info, err := os.Stat(childPath)
		if err != nil {
			// A broken symlink or a race with a concurrent delete: skip it
			// the same way the original's non-throwing is_regular_file/
			// is_directory checks silently skip an unresolvable entry.
			continue
		}
		switch {
		case info.Mode().IsRegular():
			w, err := newWatch(source, childPath, false)
			if err != nil {
				dw.Close()
				return nil, err
			}
			dw.files[entry.Name()] = w
		case info.IsDir():
			child, err := New(source, childPath)
			if err != nil {
				dw.Close()
				return nil, err
			}
			dw.dirs[entry.Name()] = child
		}
	}

	return dw, nil
}

// Path returns the absolute path this node watches.
func (dw *DirectoryWatch) Path() pathval.Path { return dw.path }

// Contains reports whether p falls under this node's subtree.
func (dw *DirectoryWatch) Contains(p pathval.Path) bool {
	_, err := p.TryStripPrefix(dw.path)
	return err == nil
}

// RelPath returns p relative to this node, iff p falls under its
// subtree.
func (dw *DirectoryWatch) RelPath(p pathval.Path) (pathval.Path, error) {
	return p.TryStripPrefix(dw.path)
}

// WatchPath grows the tree to cover relPath, one path component below
// this node, following it down to whichever existing DirectoryWatch
// should own the new leaf. It is a no-op if the target is already
// watched.
func (dw *DirectoryWatch) WatchPath(relPath pathval.Path) error {
	parts := relPath.Parts()
	if len(parts) == 0 {
		return fmt.Errorf("watch: empty relative path")
	}

	if len(parts) == 1 {
		name := parts[0]
		if _, ok := dw.files[name]; ok {
			return nil
		}
		if _, ok := dw.dirs[name]; ok {
			return nil
		}

		fullPath := dw.path.String(true) + "/" + name
		info, err := os.Stat(fullPath)
		if err != nil {
			return fmt.Errorf("watch: stat %s: %w", fullPath, err)
		}
		switch {
		case info.IsDir():
			child, err := New(dw.source, fullPath)
			if err != nil {
				return err
			}
			dw.dirs[name] = child
		case info.Mode().IsRegular():
			w, err := newWatch(dw.source, fullPath, false)
			if err != nil {
				return err
			}
			dw.files[name] = w
		default:
			return fmt.Errorf("watch: %s is not a regular file or directory", fullPath)
		}
		return nil
	}

	child, ok := dw.dirs[parts[0]]
	if !ok {
		return fmt.Errorf("watch: child %q not found under %s", parts[0], dw.path.String(true))
	}
	return child.WatchPath(relPath.ChildPath())
}

// UnwatchPath shrinks the tree, removing and closing whichever leaf
// relPath names.
func (dw *DirectoryWatch) UnwatchPath(relPath pathval.Path) error {
	parts := relPath.Parts()
	if len(parts) == 0 {
		return fmt.Errorf("watch: empty relative path")
	}

	if len(parts) == 1 {
		name := parts[0]
		if w, ok := dw.files[name]; ok {
			w.Close()
			delete(dw.files, name)
		}
		if d, ok := dw.dirs[name]; ok {
			d.Close()
			delete(dw.dirs, name)
		}
		return nil
	}

	child, ok := dw.dirs[parts[0]]
	if !ok {
		return fmt.Errorf("watch: child %q not found under %s", parts[0], dw.path.String(true))
	}
	return child.UnwatchPath(relPath.ChildPath())
}

// Close releases every rule owned by this node and its descendants.
func (dw *DirectoryWatch) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, w := range dw.files {
		record(w.Close())
	}
	for _, d := range dw.dirs {
		record(d.Close())
	}
	record(dw.self.Close())
	return firstErr
}

// RuleCount returns the number of audit rules currently installed across
// this node and its descendants, for status reporting.
func (dw *DirectoryWatch) RuleCount() int {
	n := len(dw.self.rules)
	for _, w := range dw.files {
		n += len(w.rules)
	}
	for _, d := range dw.dirs {
		n += d.RuleCount()
	}
	return n
}
