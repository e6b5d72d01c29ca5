package session_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckdt/internal/domain"
	"ckdt/internal/session"
)

type fakeLoader struct {
	mu       sync.Mutex
	services map[string]domain.Service
	err      error
}

func (f *fakeLoader) GetService(_ context.Context, id string) (domain.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Service{}, f.err
	}
	svc, ok := f.services[id]
	if !ok {
		return domain.Service{}, errors.New("not found")
	}
	return svc, nil
}

func (f *fakeLoader) set(svc domain.Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[svc.ID] = svc
}

func transfer() domain.Service {
	return domain.Service{
		ID:       "svc",
		Title:    "Transferência",
		Category: domain.CategoryVehicle,
		Sections: []domain.Section{
			{ID: "docs", Title: "Documentos", Items: []domain.Item{{ID: "crv", Text: "CRV"}, {ID: "laudo", Text: "Laudo"}}},
			{ID: "ident", Title: "Identificação", IsAlternative: true, Items: []domain.Item{{ID: "rg", Text: "RG"}, {ID: "cnh", Text: "CNH"}}},
		},
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func newStore(t *testing.T, ttl time.Duration) (*session.Store, *fakeLoader, *clock, *bytes.Buffer) {
	t.Helper()
	loader := &fakeLoader{services: map[string]domain.Service{"svc": transfer()}}
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	var logs bytes.Buffer
	n := 0
	store := session.NewStore(loader, session.Config{
		TTL:    ttl,
		Logger: log.New(&logs, "", 0),
		Now:    clk.now,
		NewID: func() string {
			n++
			return fmt.Sprintf("s%d", n)
		},
	})
	return store, loader, clk, &logs
}

func TestOpenStartsUnchecked(t *testing.T) {
	store, loader, _, _ := newStore(t, time.Hour)
	svc := transfer()
	svc.Sections[0].Items[0].IsCompleted = true
	loader.set(svc)

	v, err := store.Open(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, "s1", v.SessionID)
	assert.False(t, v.Service.Sections[0].Items[0].IsCompleted)
	assert.Equal(t, 0.0, v.Summary.Progress.Percentage)
	assert.Equal(t, 1, store.Len())
}

func TestToggleAndReset(t *testing.T) {
	store, _, _, _ := newStore(t, time.Hour)
	ctx := context.Background()
	v, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	id := v.SessionID

	v, err = store.Toggle(ctx, id, "docs", "crv")
	require.NoError(t, err)
	v, err = store.Toggle(ctx, id, "docs", "laudo")
	require.NoError(t, err)
	assert.Equal(t, 50.0, v.Summary.Progress.Percentage)

	v, err = store.Toggle(ctx, id, "ident", "cnh")
	require.NoError(t, err)
	assert.True(t, v.Summary.Complete)

	v, err = store.Toggle(ctx, id, "ident", "nope")
	require.NoError(t, err)
	assert.True(t, v.Summary.Complete, "unknown item leaves state untouched")

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, v.Service, got.Service)

	v, err = store.Reset(ctx, id)
	require.NoError(t, err)
	assert.False(t, v.Summary.Complete)
	assert.Equal(t, 0, v.Summary.Items.Completed)
	assert.Equal(t, 1, store.Len(), "reset keeps the session")
}

func TestSessionsAreIndependent(t *testing.T) {
	store, _, _, _ := newStore(t, time.Hour)
	ctx := context.Background()
	a, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	b, err := store.Open(ctx, "svc")
	require.NoError(t, err)

	_, err = store.Toggle(ctx, a.SessionID, "docs", "crv")
	require.NoError(t, err)
	got, err := store.Get(ctx, b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Summary.Items.Completed)
}

func TestLeaveForgetsSession(t *testing.T) {
	store, _, _, _ := newStore(t, time.Hour)
	ctx := context.Background()
	v, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	_, err = store.Toggle(ctx, v.SessionID, "docs", "crv")
	require.NoError(t, err)

	require.NoError(t, store.Leave(v.SessionID))
	_, err = store.Get(ctx, v.SessionID)
	assert.ErrorIs(t, err, session.ErrUnknown)
	assert.ErrorIs(t, store.Leave(v.SessionID), session.ErrUnknown)

	again, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Summary.Items.Completed, "re-entering starts from scratch")
}

func TestCatalogEditsKeepMatchingChecks(t *testing.T) {
	store, loader, _, _ := newStore(t, time.Hour)
	ctx := context.Background()
	v, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	_, err = store.Toggle(ctx, v.SessionID, "docs", "crv")
	require.NoError(t, err)
	_, err = store.Toggle(ctx, v.SessionID, "docs", "laudo")
	require.NoError(t, err)

	edited := transfer()
	edited.Sections[0].Items = edited.Sections[0].Items[:1]
	edited.Sections[0].Items[0].Text = "CRV assinado"
	loader.set(edited)

	got, err := store.Get(ctx, v.SessionID)
	require.NoError(t, err)
	assert.True(t, got.Service.Sections[0].Items[0].IsCompleted)
	assert.Equal(t, 1, got.Summary.Items.Completed)
}

func TestLoadFailureKeepsState(t *testing.T) {
	store, loader, _, logs := newStore(t, time.Hour)
	ctx := context.Background()
	v, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	_, err = store.Toggle(ctx, v.SessionID, "docs", "crv")
	require.NoError(t, err)

	loader.err = errors.New("database is locked")
	_, err = store.Toggle(ctx, v.SessionID, "docs", "laudo")
	require.Error(t, err)
	assert.Contains(t, logs.String(), "WARNING")

	loader.err = nil
	got, err := store.Get(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Summary.Items.Completed)
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	store, _, clk, _ := newStore(t, 30*time.Minute)
	ctx := context.Background()
	idle, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	clk.add(20 * time.Minute)
	busy, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, clk.t.Add(30*time.Minute), busy.ExpiresAt)

	clk.add(15 * time.Minute)
	assert.Equal(t, 1, store.Sweep())
	_, err = store.Get(ctx, idle.SessionID)
	assert.ErrorIs(t, err, session.ErrUnknown)
	_, err = store.Get(ctx, busy.SessionID)
	assert.NoError(t, err)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	store, _, clk, _ := newStore(t, 0)
	_, err := store.Open(context.Background(), "svc")
	require.NoError(t, err)
	clk.add(24 * time.Hour)
	assert.Equal(t, 0, store.Sweep())
}

func TestOpenUnknownService(t *testing.T) {
	store, _, _, _ := newStore(t, time.Hour)
	_, err := store.Open(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestConcurrentToggles(t *testing.T) {
	store, _, _, _ := newStore(t, time.Hour)
	ctx := context.Background()
	v, err := store.Open(ctx, "svc")
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Toggle(ctx, v.SessionID, "docs", "crv")
		}()
	}
	wg.Wait()
	got, err := store.Get(ctx, v.SessionID)
	require.NoError(t, err)
	assert.False(t, got.Service.Sections[0].Items[0].IsCompleted, "an even number of toggles cancels out")
}
