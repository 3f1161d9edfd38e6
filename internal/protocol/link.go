package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// LinkState is the lifecycle state of an AttributeLink.
type LinkState string

// Link lifecycle states.
const (
	StateUnlinked  LinkState = "UNLINKED"
	StateLinking   LinkState = "LINKING"
	StateLinked    LinkState = "LINKED"
	StateUnlinking LinkState = "UNLINKING"
)

// Lifecycle events.
const (
	eventLink     = "link"
	eventAbort    = "abort"
	eventLinked   = "linked"
	eventUnlink   = "unlink"
	eventUnlinked = "unlinked"
)

// linkEvents is the lifecycle transition table.
var linkEvents = fsm.Events{
	{Name: eventLink, Src: []string{string(StateUnlinked)}, Dst: string(StateLinking)},
	{Name: eventAbort, Src: []string{string(StateLinking)}, Dst: string(StateUnlinked)},
	{Name: eventLinked, Src: []string{string(StateLinking)}, Dst: string(StateLinked)},
	{Name: eventUnlink, Src: []string{string(StateLinked)}, Dst: string(StateUnlinking)},
	{Name: eventUnlinked, Src: []string{string(StateUnlinking)}, Dst: string(StateUnlinked)},
}

// AttributeLink is the live binding of one attribute to a protocol
// configuration.
type AttributeLink struct {
	Ref      AttributeRef
	ConfigID string
	Meta     LinkMeta
	Policy   Policy

	client  *client
	matcher MessageMatcher

	// write is nil for read-only links.
	write func(value any) error

	pollMu      sync.Mutex
	pollingTask *Task

	// deliverMu orders inbound effects and outbound sends against detach:
	// once detach returns, deliver never runs its body again.
	deliverMu sync.RWMutex
	detached  bool

	linkedAt time.Time
	machine  *fsm.FSM
}

func newAttributeLink(ref AttributeRef, configID string, meta LinkMeta, policy Policy, logger Logger) *AttributeLink {
	l := &AttributeLink{
		Ref:      ref,
		ConfigID: configID,
		Meta:     meta,
		Policy:   policy,
	}
	l.matcher = messageMatcher(meta)
	l.machine = fsm.NewFSM(string(StateUnlinked), linkEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			logger.Debug("attribute link state changed",
				"attribute", ref.String(), "from", e.Src, "to", e.Dst)
		},
	})
	return l
}

// State returns the current lifecycle state.
func (l *AttributeLink) State() LinkState {
	return LinkState(l.machine.Current())
}

// transition fires a lifecycle event.
func (l *AttributeLink) transition(ctx context.Context, event string) error {
	return l.machine.Event(ctx, event)
}

// setPollingTask records the polling task.
func (l *AttributeLink) setPollingTask(t *Task) {
	l.pollMu.Lock()
	l.pollingTask = t
	l.pollMu.Unlock()
}

// stopPolling cancels the polling task, if any. Safe to call repeatedly.
func (l *AttributeLink) stopPolling() {
	l.pollMu.Lock()
	t := l.pollingTask
	l.pollMu.Unlock()
	t.Cancel()
}

// deliver runs fn unless the link has been detached. detach waits for a
// running fn to return.
func (l *AttributeLink) deliver(fn func()) bool {
	l.deliverMu.RLock()
	defer l.deliverMu.RUnlock()
	if l.detached {
		return false
	}
	fn()
	return true
}

// detach stops all further inbound effects for the link.
func (l *AttributeLink) detach() {
	l.deliverMu.Lock()
	l.detached = true
	l.deliverMu.Unlock()
}

// Writable reports whether writes are accepted.
func (l *AttributeLink) Writable() bool {
	return l.write != nil
}

// LinkInfo is a read-only snapshot of a link.
type LinkInfo struct {
	Ref             AttributeRef  `json:"ref"`
	ConfigID        string        `json:"config_id"`
	State           LinkState     `json:"state"`
	ReadOnly        bool          `json:"read_only"`
	PollingInterval time.Duration `json:"polling_interval"`
	ResponseTimeout time.Duration `json:"response_timeout"`
	Retries         int           `json:"retries"`
	LinkedAt        time.Time     `json:"linked_at"`
}

func (l *AttributeLink) info() LinkInfo {
	return LinkInfo{
		Ref:             l.Ref,
		ConfigID:        l.ConfigID,
		State:           l.State(),
		ReadOnly:        !l.Writable(),
		PollingInterval: l.Meta.PollingInterval,
		ResponseTimeout: l.Policy.ResponseTimeout,
		Retries:         l.Policy.Retries,
		LinkedAt:        l.linkedAt,
	}
}
