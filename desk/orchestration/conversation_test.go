package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationState_Advance(t *testing.T) {
	s := newConversationState(nil, "s1", "trainee")
	assert.Equal(t, ports.StateActive, s.state)

	tier2 := ports.TierDecision{Tier: ports.Tier2, Severity: ports.SeverityMedium}
	assert.False(t, s.advance(tier2))
	assert.Equal(t, 1, s.attempts)

	tier1 := ports.TierDecision{Tier: ports.Tier1, Severity: ports.SeverityLow}
	assert.False(t, s.advance(tier1))
	assert.Equal(t, 1, s.attempts, "a resolved turn leaves the counter alone")

	escalate := ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityHigh, NeedsEscalation: true}
	assert.True(t, s.advance(escalate))
	assert.True(t, s.escalated())
	assert.False(t, s.advance(escalate), "only the first escalation is an edge")
	assert.Equal(t, 3, s.attempts)
	assert.Equal(t, 4, s.turnCount)
}

func TestConversationState_FromStore(t *testing.T) {
	s := newConversationState(&ports.Conversation{
		State:              ports.StateEscalated,
		UnresolvedAttempts: 4,
		TurnCount:          7,
		History:            []ports.Turn{{Message: "x"}},
	}, "s1", "trainee")

	assert.True(t, s.escalated())
	assert.Equal(t, 4, s.attempts)
	assert.Len(t, s.history, 1)
	assert.False(t, s.advance(ports.TierDecision{Tier: ports.Tier3, NeedsEscalation: true}))
}

func TestSessionLocks_Serializes(t *testing.T) {
	locks := newSessionLocks()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.lock(context.Background(), "same")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			running++
			maxSeen = max(maxSeen, running)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.active(), "idle sessions are forgotten")
}

func TestSessionLocks_IndependentSessions(t *testing.T) {
	locks := newSessionLocks()

	unlockA, err := locks.lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.lock(ctx, "b")
	require.NoError(t, err, "a held session must not block another")
	unlockB()
}

func TestSessionLocks_ContextCancel(t *testing.T) {
	locks := newSessionLocks()

	unlock, err := locks.lock(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, "s")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, locks.active())
}
