package player

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sendrec/cueplayer/internal/cuepoint"
	"github.com/sendrec/cueplayer/internal/geoip"
)

func TestCreate_SeedsStoreForNewVideo(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(t, newFakeSource(), store)

	s := newLoadedSession(t, m, CreateOptions{VideoID: "intro-video"})
	if len(s.Cuepoints()) != 3 {
		t.Fatalf("expected 3 cuepoints, got %d", len(s.Cuepoints()))
	}
	if store.seeded != 3 {
		t.Errorf("expected defaults seeded into the store, got %d", store.seeded)
	}
}

func TestCreate_UsesStoredCuepoints(t *testing.T) {
	store := newFakeStore()
	stored, _ := cuepoint.New(42, "Stored", "")
	store.stored["intro-video"] = []cuepoint.Cuepoint{stored}
	m, _ := newTestManager(t, newFakeSource(), store)

	s := newLoadedSession(t, m, CreateOptions{VideoID: "intro-video"})
	list := s.Cuepoints()
	if len(list) != 1 || list[0].ID != stored.ID {
		t.Fatalf("expected stored cuepoint, got %+v", list)
	}
	if store.seeded != 0 {
		t.Errorf("expected no seeding, got %d", store.seeded)
	}
}

func TestCreate_WithoutVideoSkipsStore(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(t, newFakeSource(), store)

	s := newLoadedSession(t, m, CreateOptions{})
	if _, err := s.AddCuepoint(context.Background(), 12, "Local", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.seeded != 0 || len(store.inserted) != 0 {
		t.Error("expected an anonymous session to stay in memory")
	}
}

func TestCreate_RejectsBadInput(t *testing.T) {
	m, _ := newTestManager(t, newFakeSource(), nil)

	if _, err := m.Create(context.Background(), CreateOptions{Language: "de"}); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if _, err := m.Create(context.Background(), CreateOptions{VideoID: strings.Repeat("v", 101)}); !errors.Is(err, ErrInvalidVideoID) {
		t.Errorf("expected ErrInvalidVideoID, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected no sessions, got %d", m.Len())
	}
}

func TestCuepointWriteThrough(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(t, newFakeSource(), store)
	s := newLoadedSession(t, m, CreateOptions{VideoID: "intro-video"})
	ctx := context.Background()

	added, err := s.AddCuepoint(ctx, 12, "Saved", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 1 || store.inserted[0].ID != added.ID {
		t.Errorf("expected insert to reach the store, got %+v", store.inserted)
	}

	if _, err := s.EditCuepoint(ctx, added.ID, cuepoint.Changes{Label: ptr("Renamed")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updated) != 1 || store.updated[0].Label != "Renamed" {
		t.Errorf("expected update to reach the store, got %+v", store.updated)
	}

	if _, err := s.RemoveCuepoint(ctx, added.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != added.ID {
		t.Errorf("expected delete to reach the store, got %+v", store.deleted)
	}
}

func TestCuepointWriteThrough_RollsBackOnFailure(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestManager(t, newFakeSource(), store)
	s := newLoadedSession(t, m, CreateOptions{VideoID: "intro-video"})
	ctx := context.Background()
	target := s.Cuepoints()[0]

	store.failWrite = errors.New("connection reset")

	if _, err := s.AddCuepoint(ctx, 12, "Lost", ""); err == nil {
		t.Fatal("expected insert failure")
	}
	if len(s.Cuepoints()) != 3 {
		t.Errorf("expected failed insert to be rolled back, got %d cuepoints", len(s.Cuepoints()))
	}

	if _, err := s.EditCuepoint(ctx, target.ID, cuepoint.Changes{Label: ptr("Changed")}); err == nil {
		t.Fatal("expected update failure")
	}
	if got, _ := s.cuepoints.Get(target.ID); got.Label != target.Label {
		t.Errorf("expected label restored to %q, got %q", target.Label, got.Label)
	}

	if _, err := s.RemoveCuepoint(ctx, target.ID); err == nil {
		t.Fatal("expected delete failure")
	}
	if len(s.Cuepoints()) != 3 {
		t.Error("expected cuepoint kept when the delete fails")
	}
}

func TestManager_GetAndClose(t *testing.T) {
	m, _ := newTestManager(t, newFakeSource(), nil)
	s := newLoadedSession(t, m, CreateOptions{})

	if got, ok := m.Get(s.ID()); !ok || got != s {
		t.Fatal("expected session to be found")
	}
	if !m.Close(s.ID()) {
		t.Fatal("expected close to report true")
	}
	if m.Close(s.ID()) {
		t.Error("expected second close to report false")
	}
	if _, ok := m.Get(s.ID()); ok {
		t.Error("expected closed session to be gone")
	}
}

func TestManager_ReapIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(ManagerConfig{
		Source:      newFakeSource(),
		Catalog:     newTestCatalog(t),
		IdleTimeout: 10 * time.Minute,
		Now:         func() time.Time { return now },
	})
	t.Cleanup(m.Shutdown)

	stale := newLoadedSession(t, m, CreateOptions{})
	now = now.Add(6 * time.Minute)
	fresh := newLoadedSession(t, m, CreateOptions{})
	now = now.Add(6 * time.Minute)

	if n := m.Reap(); n != 1 {
		t.Fatalf("expected 1 session reaped, got %d", n)
	}
	if _, ok := m.Get(stale.ID()); ok {
		t.Error("expected stale session to be reaped")
	}
	if _, ok := m.Get(fresh.ID()); !ok {
		t.Error("expected fresh session to survive")
	}
}

func TestManager_GetKeepsSessionAlive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(ManagerConfig{
		Source:      newFakeSource(),
		Catalog:     newTestCatalog(t),
		IdleTimeout: 10 * time.Minute,
		Now:         func() time.Time { return now },
	})
	t.Cleanup(m.Shutdown)

	s := newLoadedSession(t, m, CreateOptions{})
	now = now.Add(8 * time.Minute)
	m.Get(s.ID())
	now = now.Add(8 * time.Minute)

	if n := m.Reap(); n != 0 {
		t.Errorf("expected touched session to survive, got %d reaped", n)
	}
}

func TestStartReaperStopsWithContext(t *testing.T) {
	m := NewManager(ManagerConfig{
		Source:      newFakeSource(),
		Catalog:     newTestCatalog(t),
		IdleTimeout: time.Nanosecond,
	})
	t.Cleanup(m.Shutdown)
	newLoadedSession(t, m, CreateOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartReaper(ctx, time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for m.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Len() != 0 {
		t.Errorf("expected reaper to close idle session, got %d", m.Len())
	}
}

func TestParseClient(t *testing.T) {
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	info := ParseClient(ua, geoip.Location{Country: "DE"})

	if info.Browser != "Chrome" {
		t.Errorf("expected Chrome, got %q", info.Browser)
	}
	if info.Mobile || info.Bot {
		t.Errorf("expected desktop browser, got %+v", info)
	}
	if info.Country != "DE" {
		t.Errorf("expected country DE, got %q", info.Country)
	}

	if empty := ParseClient("", geoip.Location{}); empty.Browser != "" {
		t.Errorf("expected empty client for missing user agent, got %+v", empty)
	}
}
