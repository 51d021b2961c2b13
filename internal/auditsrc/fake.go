package auditsrc

import (
	"context"
	"fmt"
)

// fakeRuleHandle identifies one AddRule call on a FakeSource.
type fakeRuleHandle struct {
	id int
}

func (*fakeRuleHandle) rule() {}

// FakeSource is an in-memory Source for tests: it replays a scripted
// queue of raw records and records every AddRule/DeleteRule call instead
// of touching the kernel, the same role the teacher's in-memory fakes
// play in its watcher and daemon tests.
type FakeSource struct {
	Queue []Raw

	Opened  bool
	Closed  bool
	PID     int
	Enabled bool

	Rules   map[int]RuleSpec
	nextID  int
	Deleted []int
}

// NewFakeSource returns a FakeSource that will hand out queue in order.
func NewFakeSource(queue []Raw) *FakeSource {
	return &FakeSource{
		Queue: queue,
		Rules: map[int]RuleSpec{},
	}
}

func (f *FakeSource) Open() error  { f.Opened = true; return nil }
func (f *FakeSource) Close() error { f.Closed = true; return nil }

func (f *FakeSource) SetPID(pid int) error {
	f.PID = pid
	return nil
}

func (f *FakeSource) SetEnabled(enabled bool) error {
	f.Enabled = enabled
	return nil
}

func (f *FakeSource) AddRule(spec RuleSpec) (RuleHandle, error) {
	f.nextID++
	f.Rules[f.nextID] = spec
	return &fakeRuleHandle{id: f.nextID}, nil
}

func (f *FakeSource) DeleteRule(handle RuleHandle) error {
	h, ok := handle.(*fakeRuleHandle)
	if !ok {
		return fmt.Errorf("auditsrc: rule handle not from FakeSource")
	}
	if _, ok := f.Rules[h.id]; !ok {
		return fmt.Errorf("auditsrc: unknown rule id %d", h.id)
	}
	delete(f.Rules, h.id)
	f.Deleted = append(f.Deleted, h.id)
	return nil
}

// NextRaw pops the next queued record, blocking on ctx if the queue is
// empty until it is cancelled.
func (f *FakeSource) NextRaw(ctx context.Context) (Raw, error) {
	if len(f.Queue) == 0 {
		<-ctx.Done()
		return Raw{}, ctx.Err()
	}
	r := f.Queue[0]
	f.Queue = f.Queue[1:]
	return r, nil
}

// RuleCount reports how many rules are currently installed.
func (f *FakeSource) RuleCount() int { return len(f.Rules) }
