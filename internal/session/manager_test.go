package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/ent0n29/solace/internal/dialogue"
)

func newTestManager(timeout time.Duration) *Manager {
	return NewManager(timeout, func() dialogue.State {
		return dialogue.NewState("initial summary", "initial bio")
	})
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("")
	gt.NoError(t, err).Required()
	gt.String(t, s.ID).NotEqual("")
	gt.Value(t, s.State.Summary).Equal("initial summary")

	got, err := m.Get(s.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(StatusActive)
	gt.Value(t, got.State.Biography).Equal("initial bio")

	ended, err := m.End(s.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, ended.Status).Equal(StatusEnded)
	gt.Number(t, m.ActiveCount()).Equal(0)

	_, err = m.Get("missing")
	gt.Error(t, err).Is(ErrNotFound)
}

func TestManagerCreateRejectsActiveDuplicate(t *testing.T) {
	m := newTestManager(time.Minute)
	_, err := m.Create("abc")
	gt.NoError(t, err).Required()

	_, err = m.Create("abc")
	gt.Error(t, err).Is(ErrExists)

	_, err = m.End("abc")
	gt.NoError(t, err).Required()
	_, err = m.Create("abc")
	gt.NoError(t, err)
}

func TestManagerGetOrCreate(t *testing.T) {
	m := newTestManager(time.Minute)

	s, err := m.GetOrCreate("")
	gt.NoError(t, err).Required()
	gt.Value(t, s.ID).Equal(DefaultID)

	gt.NoError(t, m.Commit(DefaultID, dialogue.State{
		History: []dialogue.Turn{{User: "hi", Assistant: "hello"}},
		Summary: "s",
	})).Required()

	again, err := m.GetOrCreate(DefaultID)
	gt.NoError(t, err).Required()
	gt.Value(t, again.TurnCount).Equal(1)

	_, err = m.End(DefaultID)
	gt.NoError(t, err).Required()
	revived, err := m.GetOrCreate(DefaultID)
	gt.NoError(t, err).Required()
	gt.Value(t, revived.Status).Equal(StatusActive)
	gt.Value(t, revived.TurnCount).Equal(0)
	gt.Value(t, revived.State.Summary).Equal("initial summary")
}

func TestManagerSnapshotIsIsolated(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("iso")
	gt.NoError(t, err).Required()

	gt.NoError(t, m.Commit(s.ID, dialogue.State{
		History: []dialogue.Turn{{User: "a", Assistant: "b"}},
	})).Required()

	snap, err := m.Snapshot(s.ID)
	gt.NoError(t, err).Required()
	snap.History[0].User = "mutated"
	snap.History = append(snap.History, dialogue.Turn{User: "x"})

	again, err := m.Snapshot(s.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, again.History).Length(1).Required()
	gt.Value(t, again.History[0].User).Equal("a")
}

func TestManagerCommitRejectsEndedSession(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("")
	gt.NoError(t, err).Required()
	_, err = m.End(s.ID)
	gt.NoError(t, err).Required()

	gt.Error(t, m.Commit(s.ID, dialogue.State{})).Is(ErrEnded)
	gt.Error(t, m.Commit("missing", dialogue.State{})).Is(ErrNotFound)
}

func TestManagerAcquireSerializesTurns(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("")
	gt.NoError(t, err).Required()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), s.ID)
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	gt.Bool(t, overlap.Load()).False()
}

func TestManagerAcquireHonorsContext(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("")
	gt.NoError(t, err).Required()

	release, err := m.Acquire(context.Background(), s.ID)
	gt.NoError(t, err).Required()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, s.ID)
	gt.Error(t, err).Is(context.DeadlineExceeded)

	_, err = m.Acquire(context.Background(), "missing")
	gt.Error(t, err).Is(ErrNotFound)
}

func TestManagerReleaseIsIdempotent(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("")
	gt.NoError(t, err).Required()

	release, err := m.Acquire(context.Background(), s.ID)
	gt.NoError(t, err).Required()
	release()
	release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	next, err := m.Acquire(ctx, s.ID)
	gt.NoError(t, err).Required()
	next()
}

func TestManagerResetRestoresInitialState(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("")
	gt.NoError(t, err).Required()
	gt.NoError(t, m.Commit(s.ID, dialogue.State{
		History:   []dialogue.Turn{{User: "u", Assistant: "a"}, {User: "u2", Assistant: "a2"}},
		Summary:   "changed",
		Biography: "changed",
	})).Required()

	reset, err := m.Reset(context.Background(), s.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, reset.TurnCount).Equal(0)
	gt.Array(t, reset.State.History).Length(0)
	gt.Value(t, reset.State.Summary).Equal("initial summary")
	gt.Value(t, reset.State.Biography).Equal("initial bio")
}

func TestManagerHistoryPagination(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create("")
	gt.NoError(t, err).Required()

	var history []dialogue.Turn
	for i := 0; i < 250; i++ {
		history = append(history, dialogue.Turn{User: "u", Assistant: "a"})
	}
	history[10].User = "eleventh"
	gt.NoError(t, m.Commit(s.ID, dialogue.State{History: history})).Required()

	page, err := m.History(s.ID, 10, 5)
	gt.NoError(t, err).Required()
	gt.Array(t, page.Turns).Length(5).Required()
	gt.Value(t, page.Turns[0].User).Equal("eleventh")
	gt.Value(t, page.Total).Equal(250)

	page, err = m.History(s.ID, 0, 0)
	gt.NoError(t, err).Required()
	gt.Array(t, page.Turns).Length(maxHistoryPage)
	gt.Value(t, page.Limit).Equal(maxHistoryPage)

	page, err = m.History(s.ID, 240, 50)
	gt.NoError(t, err).Required()
	gt.Array(t, page.Turns).Length(10)

	page, err = m.History(s.ID, 999, 10)
	gt.NoError(t, err).Required()
	gt.Array(t, page.Turns).Length(0)
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := newTestManager(30 * time.Millisecond)
	s, err := m.Create("")
	gt.NoError(t, err).Required()

	expired := make(chan string, 1)
	m.SetExpireHook(func(sess *Session) { expired <- sess.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		gt.Value(t, id).Equal(s.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not expired")
	}

	got, err := m.Get(s.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Status).Equal(StatusEnded)
}
