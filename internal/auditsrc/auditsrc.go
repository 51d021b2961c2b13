// Package auditsrc is the daemon's connection to the Linux audit
// subsystem: opening the netlink socket, enabling the kernel audit feed,
// installing and removing watch rules, and reading back raw record text.
package auditsrc

import "context"

// Permission bits, matching libaudit.h's AUDIT_PERM_* constants.
const (
	PermExec  = 1
	PermWrite = 2
	PermRead  = 4
	PermAttr  = 8
)

// RuleSpec describes one watch rule to install: a path, whether it is a
// directory-class or file-class watch, the permission bits to trigger on,
// and the synthetic key the resulting records will carry back.
type RuleSpec struct {
	Path       string
	IsDir      bool
	Permission uint32
	Key        string
}

// RuleHandle identifies a rule previously returned by AddRule, opaque to
// callers. It carries whatever the Source implementation needs to submit
// a matching delete request later.
type RuleHandle interface {
	rule()
}

// Raw is one undivided line of audit record text read off the netlink
// socket, ready for auditparse.Parse.
type Raw struct {
	Type int
	Text string
}

// Source is the audit-subsystem collaborator the rest of the daemon is
// built against. NetlinkSource is the real implementation; FakeSource
// lets C3-C6 be exercised without root or a running kernel audit
// subsystem.
type Source interface {
	// Open establishes the netlink connection. Must be called before
	// any other method.
	Open() error
	// Close tears down the connection. Idempotent.
	Close() error
	// SetPID registers the calling process as the audit daemon so the
	// kernel accepts rule changes and enabling requests from it.
	SetPID(pid int) error
	// SetEnabled toggles the kernel's audit collection on or off.
	SetEnabled(enabled bool) error
	// AddRule installs one watch rule and returns a handle for later
	// removal.
	AddRule(spec RuleSpec) (RuleHandle, error)
	// DeleteRule removes a previously installed rule.
	DeleteRule(handle RuleHandle) error
	// NextRaw blocks until the next audit record is available or ctx
	// is cancelled.
	NextRaw(ctx context.Context) (Raw, error)
}
