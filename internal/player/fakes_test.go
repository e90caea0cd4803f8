package player

import (
	"context"
	"sync"
	"testing"

	"github.com/sendrec/cueplayer/internal/cuepoint"
	"github.com/sendrec/cueplayer/internal/languages"
	"github.com/sendrec/cueplayer/internal/playback/playbacktest"
	"github.com/sendrec/cueplayer/internal/transcript"
)

type fakeSource struct {
	mu    sync.Mutex
	cues  map[string][]transcript.Cue
	err   error
	block chan struct{}
	calls []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{cues: map[string][]transcript.Cue{
		"en": {
			{Start: 0, End: 4, Text: "Hello"},
			{Start: 3, End: 8, Text: "Welcome"},
			{Start: 10, End: 12, Text: "Bye"},
		},
		"es": {{Start: 0, End: 4, Text: "Hola"}},
		"fr": {{Start: 0, End: 4, Text: "Bonjour"}},
	}}
}

func (f *fakeSource) Resource(language string) string {
	return "media/" + languages.TranscriptFile(language)
}

func (f *fakeSource) Fetch(ctx context.Context, language string) ([]transcript.Cue, error) {
	f.mu.Lock()
	f.calls = append(f.calls, language)
	block, err, cues := f.block, f.err, f.cues[language]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return cues, nil
}

func (f *fakeSource) setBlock(ch chan struct{}) {
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeStore struct {
	mu        sync.Mutex
	stored    map[string][]cuepoint.Cuepoint
	inserted  []cuepoint.Cuepoint
	updated   []cuepoint.Cuepoint
	deleted   []string
	seeded    int
	failWrite error
}

func newFakeStore() *fakeStore {
	return &fakeStore{stored: map[string][]cuepoint.Cuepoint{}}
}

func (f *fakeStore) List(ctx context.Context, videoID string) ([]cuepoint.Cuepoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[videoID], nil
}

func (f *fakeStore) Insert(ctx context.Context, videoID string, c cuepoint.Cuepoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	f.inserted = append(f.inserted, c)
	return nil
}

func (f *fakeStore) InsertAll(ctx context.Context, videoID string, cuepoints []cuepoint.Cuepoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded += len(cuepoints)
	f.stored[videoID] = append(f.stored[videoID], cuepoints...)
	return nil
}

func (f *fakeStore) Update(ctx context.Context, videoID string, c cuepoint.Cuepoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	f.updated = append(f.updated, c)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, videoID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestCatalog(t *testing.T) *languages.Catalog {
	t.Helper()
	catalog, err := languages.NewCatalog(languages.DefaultCodes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return catalog
}

func newTestManager(t *testing.T, src *fakeSource, store CuepointStore) (*Manager, *playbacktest.Scheduler) {
	t.Helper()
	sched := playbacktest.New()
	cfg := ManagerConfig{
		Scheduler: sched,
		Catalog:   newTestCatalog(t),
		Store:     store,
	}
	if src != nil {
		cfg.Source = src
	}
	m := NewManager(cfg)
	t.Cleanup(m.Shutdown)
	return m, sched
}

// newLoadedSession creates a session and waits for its first transcript load.
func newLoadedSession(t *testing.T, m *Manager, opts CreateOptions) *Session {
	t.Helper()
	s, err := m.Create(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.loads.Wait()
	return s
}
