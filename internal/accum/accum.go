// Package accum implements the event accumulator: it merges audit records
// sharing a sequence number into a complete Event and resolves the
// effective (path, action) pairs once the event completes.
package accum

import (
	"fmt"

	"github.com/lipk/dirwatchd/internal/auditparse"
)

// AccessType is the access class attributed to a resolved path.
type AccessType int

const (
	Read AccessType = iota
	Write
	Execute
	Attribute
	Create
	Delete
)

// String renders the access type using the wire vocabulary of the output
// log (spec's output-log format): read, write, exec, attr, create, delete.
func (a AccessType) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	case Execute:
		return "exec"
	case Attribute:
		return "attr"
	case Create:
		return "create"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// RecordType identifies which kind of audit record is being absorbed.
type RecordType int

const (
	Syscall RecordType = iota
	Path
	Cwd
	End
	Other
)

// additionalPath is one (nametype, name) pair taken from a PATH record.
type additionalPath struct {
	nametype string
	name     string
}

// Event accumulates all records sharing one sequence number, per spec's data model and event-accumulator sections.
type Event struct {
	keyPath         string
	basePath        string
	accessType      AccessType
	additionalPaths []additionalPath
	timestamp       int64
	uid             string
	pid             string

	hasAccessType bool
	started       bool
}

// New returns an empty, unstarted Event ready to absorb its first record.
func New() *Event {
	return &Event{}
}

// Absorb folds one record into the event. It returns true iff the event is
// now complete: either an END record was observed, or the initial SYSCALL
// record was missing a mandatory field (key, uid, or pid), in which case
// the pipeline drops the event without logging.
func (e *Event) Absorb(rt RecordType, rec auditparse.Record) bool {
	switch rt {
	case Syscall:
		return e.absorbSyscall(rec)
	case Path:
		e.absorbPath(rec)
		return false
	case Cwd:
		if cwd, ok := rec.Params["cwd"]; ok {
			e.basePath = cwd
		}
		return false
	case End:
		return true
	default:
		return false
	}
}

func (e *Event) absorbSyscall(rec auditparse.Record) bool {
	e.started = true
	e.timestamp = rec.Timestamp

	key, ok := rec.Params["key"]
	if !ok {
		return true
	}

	accessType, keyPath, ok := splitAccessKey(key)
	if !ok {
		return true
	}
	e.accessType = accessType
	e.hasAccessType = true
	e.keyPath = keyPath

	uid, hasUID := rec.Params["uid"]
	pid, hasPID := rec.Params["pid"]
	if !hasUID || !hasPID {
		return true
	}
	e.uid = uid
	e.pid = pid

	return false
}

func (e *Event) absorbPath(rec auditparse.Record) {
	name, hasName := rec.Params["name"]
	nametype, hasType := rec.Params["nametype"]
	if !hasName || !hasType {
		return
	}
	if nametype == "PARENT" {
		return
	}
	e.additionalPaths = append(e.additionalPaths, additionalPath{nametype: nametype, name: name})
}

// splitAccessKey recovers (AccessType, path) from a rule's synthetic
// key=<class><path> field, where class is one of r/w/x/a.
func splitAccessKey(key string) (AccessType, string, bool) {
	if len(key) < 2 {
		return 0, "", false
	}
	var at AccessType
	switch key[0] {
	case 'r':
		at = Read
	case 'w':
		at = Write
	case 'x':
		at = Execute
	case 'a':
		at = Attribute
	default:
		return 0, "", false
	}
	return at, key[1:], true
}

// Started reports whether the event ever absorbed a SYSCALL record.
func (e *Event) Started() bool { return e.started }

// KeyPath returns the path encoded in the syscall record's key parameter,
// stripped of its access-class prefix. The pipeline does not use this for
// routing (the effective path set comes from PATH records, per spec's design notes);
// it is exposed for callers that want to cross-check it against the
// configured roots.
func (e *Event) KeyPath() string { return e.keyPath }

// UID returns the uid read from the SYSCALL record.
func (e *Event) UID() string { return e.uid }

// PID returns the pid read from the SYSCALL record.
func (e *Event) PID() string { return e.pid }

// Timestamp returns the timestamp of the event's SYSCALL record.
func (e *Event) Timestamp() int64 { return e.timestamp }

// ResolveError reports why CalculateActions could not resolve a path or
// action for one additionalPath entry.
type ResolveError struct {
	Reason string
}

func (e *ResolveError) Error() string { return "accum: " + e.Reason }

// Action pairs a resolved absolute path string with its resolved access type.
type Action struct {
	Path       string
	AccessType AccessType
}

// CalculateActions resolves the event's additional paths into absolute
// paths and access types, in the order the PATH records were observed.
//
// resolvedPath is name itself if already absolute, otherwise
// basePath + "/" + name; it is an error for name to be empty or relative
// with no basePath. resolvedAction is accessType when nametype is NORMAL,
// Create for CREATE, Delete for DELETE, and an error for anything else.
func (e *Event) CalculateActions() ([]Action, error) {
	actions := make([]Action, 0, len(e.additionalPaths))
	for _, ap := range e.additionalPaths {
		path, err := e.resolvePath(ap.name)
		if err != nil {
			return nil, err
		}
		action, err := e.resolveAction(ap.nametype)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{Path: path, AccessType: action})
	}
	return actions, nil
}

func (e *Event) resolvePath(name string) (string, error) {
	if name == "" {
		return "", &ResolveError{Reason: "empty path"}
	}
	if name[0] == '/' {
		return name, nil
	}
	if e.basePath == "" {
		return "", &ResolveError{Reason: "missing parent path"}
	}
	return e.basePath + "/" + name, nil
}

func (e *Event) resolveAction(nametype string) (AccessType, error) {
	switch nametype {
	case "NORMAL":
		if !e.hasAccessType {
			return 0, &ResolveError{Reason: fmt.Sprintf("no access type recorded for nametype %q", nametype)}
		}
		return e.accessType, nil
	case "CREATE":
		return Create, nil
	case "DELETE":
		return Delete, nil
	default:
		return 0, &ResolveError{Reason: fmt.Sprintf("unrecognized action %q", nametype)}
	}
}
