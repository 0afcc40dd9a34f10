package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/results-sync/internal/cache"
	"github.com/SAP-F-2025/results-sync/internal/events"
	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/validator"
)

type testBus struct {
	bus    *events.Bus
	store  *cache.MemoryFlagStore
	outbox *events.Outbox
}

func newTestBus(t *testing.T) *testBus {
	t.Helper()
	bus := events.NewBus(testLogger(), validator.New())
	t.Cleanup(func() { _ = bus.Close() })

	store := cache.NewMemoryFlagStore(time.Hour)
	return &testBus{
		bus:    bus,
		store:  store,
		outbox: events.NewOutbox(store, bus, testLogger()),
	}
}

func (tb *testBus) session(t *testing.T, scope string, repo *fakeGrading) *Session {
	t.Helper()
	s := NewSession(context.Background(), scope, repo, tb.bus, tb.outbox, fastSessionConfig(), testLogger())
	t.Cleanup(func() {
		s.Unmount()
		s.Results().Wait()
	})
	return s
}

func TestSession_MountLoadsEveryView(t *testing.T) {
	tb := newTestBus(t)
	repo := newFakeGrading()
	repo.setHistory(models.ExamHistory{
		InProgress: []models.ExamInfo{exam("E2")},
		Completed:  []models.ExamInfo{exam("E1")},
	}, nil)
	repo.setSubmissions("E1", done("q1", 88, 1))

	s := tb.session(t, "scope-a", repo)
	require.NoError(t, s.Mount(context.Background()))
	require.NoError(t, s.Mount(context.Background()), "mount is idempotent")
	s.Results().Wait()

	history, loaded := s.History().Snapshot()
	assert.True(t, loaded)
	assert.Len(t, history.InProgress, 1)

	entry, _ := s.Results().Snapshot().Find(models.NewExamKey("E1", 1))
	require.NotNil(t, entry.Score)
	assert.Equal(t, 88.0, *entry.Score)

	_, ok := s.Reference().Get()
	assert.True(t, ok)

	identity, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "scope-a", s.Scope())
	assert.Equal(t, 2, historyCalls(repo))
}

func TestSession_MountSurvivesLoadFailures(t *testing.T) {
	tb := newTestBus(t)
	repo := newFakeGrading()
	repo.setHistory(models.ExamHistory{}, &TransportError{Op: "fetch exam history", StatusCode: 503})
	repo.identityErr = &TransportError{Op: "fetch identity", StatusCode: 502}

	s := tb.session(t, "scope-a", repo)
	require.NoError(t, s.Mount(context.Background()))

	assert.Error(t, s.Results().Err())
	assert.Error(t, s.History().Err())

	_, err := s.Identity(context.Background())
	assert.True(t, IsTransportError(err))

	repo.mu.Lock()
	repo.identityErr = nil
	repo.mu.Unlock()
	identity, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", identity.Name)
}

func TestSession_ExamFinishedOnlyReachesOwnScope(t *testing.T) {
	tb := newTestBus(t)

	repoA := newFakeGrading()
	repoA.setHistory(models.ExamHistory{InProgress: []models.ExamInfo{exam("E1")}}, nil)
	repoB := newFakeGrading()
	repoB.setHistory(models.ExamHistory{InProgress: []models.ExamInfo{exam("E1")}}, nil)

	a := tb.session(t, "scope-a", repoA)
	b := tb.session(t, "scope-b", repoB)
	require.NoError(t, a.Mount(context.Background()))
	require.NoError(t, b.Mount(context.Background()))

	callsA, callsB := historyCalls(repoA), historyCalls(repoB)

	// the server moved E1 to completed
	finished := exam("E1")
	repoA.setHistory(models.ExamHistory{Completed: []models.ExamInfo{finished}}, nil)
	repoA.setSubmissions("E1", done("q1", 55, 3))

	require.NoError(t, tb.outbox.Announce(context.Background(), "scope-a", "E1"))

	require.Eventually(t, func() bool {
		entry, idx := a.Results().Snapshot().Find(models.NewExamKey("E1", 1))
		return idx >= 0 && entry.Score != nil
	}, 2*time.Second, time.Millisecond)

	assert.Greater(t, historyCalls(repoA), callsA)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, callsB, historyCalls(repoB))
	history, _ := b.History().Snapshot()
	assert.Len(t, history.InProgress, 1)

	// the live handler consumed the announcement
	require.Eventually(t, func() bool { return tb.store.Len() == 0 }, time.Second, time.Millisecond)
}

func TestSession_MountDrainsPendingAnnouncement(t *testing.T) {
	tb := newTestBus(t)
	require.NoError(t, tb.outbox.Announce(context.Background(), "scope-a", "E7"))

	repo := newFakeGrading()
	repo.setHistory(models.ExamHistory{Completed: []models.ExamInfo{exam("E7")}}, nil)
	repo.setSubmissions("E7", done("q1", 91, 2))

	s := tb.session(t, "scope-a", repo)
	require.NoError(t, s.Mount(context.Background()))

	// mount load plus the reload triggered by the drained announcement
	assert.GreaterOrEqual(t, historyCalls(repo), 4)
	assert.Equal(t, 0, tb.store.Len())

	found, err := s.DrainPending(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSession_PendingAnnouncementIsConsumedOnce(t *testing.T) {
	tb := newTestBus(t)
	require.NoError(t, tb.outbox.Announce(context.Background(), "scope-a", "E7"))

	first := tb.session(t, "scope-a", newFakeGrading())
	second := tb.session(t, "scope-a", newFakeGrading())

	results := make(chan bool, 2)
	for _, s := range []*Session{first, second} {
		go func(s *Session) {
			found, err := s.DrainPending(context.Background())
			assert.NoError(t, err)
			results <- found
		}(s)
	}

	hits := 0
	for i := 0; i < 2; i++ {
		if <-results {
			hits++
		}
	}
	assert.Equal(t, 1, hits)
}

func TestSession_DrainIgnoresOtherScopes(t *testing.T) {
	tb := newTestBus(t)
	require.NoError(t, tb.outbox.Announce(context.Background(), "scope-b", "E7"))

	s := tb.session(t, "scope-a", newFakeGrading())
	found, err := s.DrainPending(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 2, tb.store.Len())
}

func TestSession_ReferenceChangeReloadsEverySession(t *testing.T) {
	tb := newTestBus(t)
	repoA, repoB := newFakeGrading(), newFakeGrading()

	a := tb.session(t, "scope-a", repoA)
	b := tb.session(t, "scope-b", repoB)
	require.NoError(t, a.Mount(context.Background()))
	require.NoError(t, b.Mount(context.Background()))

	repoA.mu.Lock()
	repoA.reference = &models.ReferenceData{Departments: []models.Department{{ID: "d9", Name: "MECH"}}}
	repoA.mu.Unlock()

	require.NoError(t, tb.bus.PublishReferenceDataChanged(context.Background()))

	require.Eventually(t, func() bool {
		return referenceCalls(repoA) == 2 && referenceCalls(repoB) == 2
	}, 2*time.Second, time.Millisecond)

	data, _ := a.Reference().Get()
	assert.Equal(t, "MECH", data.Departments[0].Name)
}

func TestSession_UnmountStopsDelivery(t *testing.T) {
	tb := newTestBus(t)
	repo := newFakeGrading()

	s := tb.session(t, "scope-a", repo)
	require.NoError(t, s.Mount(context.Background()))
	s.Unmount()
	assert.True(t, s.Closed())

	calls := historyCalls(repo)
	require.NoError(t, tb.outbox.Announce(context.Background(), "scope-a", "E1"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, calls, historyCalls(repo))
	assert.Equal(t, 2, tb.store.Len(), "announcement stays for the next mount")
}
