package scheduling

import (
	"fmt"

	"go.uber.org/zap"
)

type Op string

const (
	OpCreate     Op = "create"
	OpReschedule Op = "reschedule"
	OpCancel     Op = "cancel"
)

type State string

const (
	Idle               State = "idle"
	ResourceIdentified State = "resource_identified"
	SlotChosen         State = "slot_chosen"
	RemoteConfirmed    State = "remote_confirmed"
	LocalCommitted     State = "local_committed"
	TargetLocated      State = "target_located"
	RemoteUpdated      State = "remote_updated"
	LocalUpdated       State = "local_updated"
	RemoteCancelled    State = "remote_cancelled"
	LocalDeleted       State = "local_deleted"
	Aborted            State = "aborted"
)

var flows = map[Op][]State{
	OpCreate:     {Idle, ResourceIdentified, SlotChosen, RemoteConfirmed, LocalCommitted},
	OpReschedule: {Idle, TargetLocated, RemoteUpdated, LocalUpdated},
	OpCancel:     {Idle, TargetLocated, RemoteCancelled, LocalDeleted},
}

// Terminal reports whether s ends an operation.
func (s State) Terminal() bool {
	switch s {
	case LocalCommitted, LocalUpdated, LocalDeleted, Aborted:
		return true
	}
	return false
}

// machine walks one operation through its flow. Any non-terminal state may
// move to Aborted.
type machine struct {
	op     Op
	pos    int
	trace  []State
	logger *zap.Logger
}

func newMachine(op Op, logger *zap.Logger) *machine {
	return &machine{op: op, trace: []State{Idle}, logger: logger.With(zap.String("op", string(op)))}
}

func (m *machine) state() State { return m.trace[len(m.trace)-1] }

func (m *machine) to(s State, fields ...zap.Field) error {
	flow := m.op.flow()
	cur := m.state()
	if cur.Terminal() || m.pos+1 >= len(flow) || flow[m.pos+1] != s {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.op, cur, s)
	}
	m.pos++
	m.trace = append(m.trace, s)
	m.logger.Info("transition", append(fields, zap.String("state", string(s)))...)
	return nil
}

// abort moves to Aborted unless already terminal and returns err.
func (m *machine) abort(err error) error {
	if !m.state().Terminal() {
		m.trace = append(m.trace, Aborted)
		m.logger.Warn("transition",
			zap.String("state", string(Aborted)),
			zap.String("from", string(m.trace[len(m.trace)-2])),
			zap.Error(err),
		)
	}
	return err
}

func (m *machine) history() []State {
	out := make([]State, len(m.trace))
	copy(out, m.trace)
	return out
}

func (op Op) flow() []State { return flows[op] }
