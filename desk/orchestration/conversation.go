package orchestration

import (
	"context"
	"sync"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// sessionLocks serializes turns per session. Slots are reference counted and removed
// once no turn holds or waits on them, so idle sessions cost nothing.
type sessionLocks struct {
	mu    sync.Mutex
	slots map[string]*sessionSlot
}

type sessionSlot struct {
	sem  chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{slots: make(map[string]*sessionSlot)}
}

// lock blocks until sessionID is free or ctx is done.
func (l *sessionLocks) lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	l.mu.Lock()
	slot, ok := l.slots[sessionID]
	if !ok {
		slot = &sessionSlot{sem: make(chan struct{}, 1)}
		l.slots[sessionID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.release(sessionID, slot)
		})
	}, nil
}

func (l *sessionLocks) release(sessionID string, slot *sessionSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, sessionID)
	}
}

// active reports how many sessions currently hold or wait on a lock.
func (l *sessionLocks) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// conversationState is the per-session escalation state machine. It is only touched
// while the session lock is held.
type conversationState struct {
	sessionID string
	userRole  string
	state     ports.State
	attempts  int
	turnCount int
	history   []ports.Turn
}

func newConversationState(conv *ports.Conversation, sessionID, userRole string) *conversationState {
	s := &conversationState{
		sessionID: sessionID,
		userRole:  userRole,
		state:     ports.StateActive,
	}
	if conv == nil {
		return s
	}
	if conv.State == ports.StateEscalated {
		s.state = ports.StateEscalated
	}
	s.attempts = conv.UnresolvedAttempts
	s.turnCount = conv.TurnCount
	s.history = conv.History
	return s
}

func (s *conversationState) escalated() bool { return s.state == ports.StateEscalated }

// advance applies a turn's decision. It reports true only on the ACTIVE to ESCALATED
// edge; there is no way back.
func (s *conversationState) advance(decision ports.TierDecision) (escalatedNow bool) {
	s.turnCount++
	if decision.Tier != ports.Tier1 {
		s.attempts++
	}
	if decision.NeedsEscalation && s.state == ports.StateActive {
		s.state = ports.StateEscalated
		return true
	}
	return false
}
