package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pdfqa/internal/models"
	"pdfqa/internal/service/ai"
	"pdfqa/internal/worker"
)

type memoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snaps: make(map[string]Snapshot)}
}

func (m *memoryStore) Save(_ context.Context, snap *Snapshot, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.SessionID] = *snap
	return nil
}

func (m *memoryStore) Load(_ context.Context, id string) (*Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, false, nil
	}
	return &snap, true, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

type recordingCanceler struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingCanceler) CancelSession(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func TestRegistryGetCreatesAndReuses(t *testing.T) {
	reg := NewRegistry(t.TempDir(), time.Hour, nil, nil, nil)
	ctx := context.Background()
	a, err := reg.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	again, _ := reg.Get(ctx, "alpha")
	if a != again {
		t.Fatalf("same id should return the same session")
	}
	b, _ := reg.Get(ctx, "beta")
	if a == b || a.Dir() == b.Dir() {
		t.Fatalf("sessions must not share state or directories")
	}
	if a.State() != models.StateNoDocument {
		t.Fatalf("new session state = %s", a.State())
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d", reg.Len())
	}
	for _, bad := range []string{"", ".", "..", "../x", `a\b`} {
		if _, err := reg.Get(ctx, bad); err == nil {
			t.Fatalf("id %q should be rejected", bad)
		}
	}
}

func TestRegistryEndRemovesFilesAndSnapshot(t *testing.T) {
	store := newMemoryStore()
	canceler := &recordingCanceler{}
	reg := NewRegistry(t.TempDir(), time.Hour, store, canceler, nil)
	ctx := context.Background()

	ex := &fakeExtractor{pages: []string{"photosynthesis"}}
	svc := NewService(ex, ai.NewPromptBuilder(), &fakeGenerator{reply: "ok"}, directRunner{}, store, Options{}, nil)
	sess, _ := reg.Get(ctx, "gamma")
	if _, err := svc.Upload(ctx, sess, "p.pdf", pdfBytes()); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, ok, _ := store.Load(ctx, "gamma"); !ok {
		t.Fatalf("upload should store a snapshot")
	}

	if err := reg.End(ctx, "gamma"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := os.Stat(sess.Dir()); !os.IsNotExist(err) {
		t.Fatalf("session dir not removed")
	}
	if _, ok, _ := store.Load(ctx, "gamma"); ok {
		t.Fatalf("snapshot not removed")
	}
	if _, ok := reg.Lookup("gamma"); ok {
		t.Fatalf("session still registered")
	}
	if len(canceler.ids) != 1 || canceler.ids[0] != "gamma" {
		t.Fatalf("pending work not canceled: %v", canceler.ids)
	}
	if _, err := svc.Ask(ctx, sess, "q"); !errors.Is(err, ErrEnded) {
		t.Fatalf("expected ErrEnded on stale handle, got %v", err)
	}
}

func TestRegistryRestoresFromSnapshot(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_ = store.Save(ctx, &Snapshot{
		SessionID: "delta",
		Document:  &models.Document{FileName: "chem.pdf", Pages: 4, TotalChars: 12},
		Context:   "acids donate",
	}, time.Hour)

	reg := NewRegistry(t.TempDir(), time.Hour, store, nil, nil)
	sess, err := reg.Get(ctx, "delta")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	view := sess.View()
	if view.State != models.StateDocumentLoaded || view.Document == nil || view.Document.FileName != "chem.pdf" {
		t.Fatalf("session not restored: %+v", view)
	}
	if sess.Context() != "acids donate" {
		t.Fatalf("context not restored")
	}

	gen := &fakeGenerator{reply: "Acids are proton donors."}
	svc := NewService(&fakeExtractor{}, ai.NewPromptBuilder(), gen, directRunner{}, store, Options{}, nil)
	if _, err := svc.Ask(ctx, sess, "What is an acid?"); err != nil {
		t.Fatalf("Ask on restored session: %v", err)
	}
	if !strings.Contains(gen.lastPrompt(), "acids donate") {
		t.Fatalf("restored context not used")
	}
}

func TestRegistryCleanupExpired(t *testing.T) {
	base := t.TempDir()
	reg := NewRegistry(base, time.Minute, nil, nil, nil)
	now := time.Now()
	reg.now = func() time.Time { return now }
	ctx := context.Background()

	idle, _ := reg.Get(ctx, "idle")
	if err := os.MkdirAll(idle.Dir(), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	busy, _ := reg.Get(ctx, "busy")
	busy.mu.Lock()
	busy.state = models.StateAnswering
	busy.mu.Unlock()

	orphan := filepath.Join(base, "orphan")
	if err := os.MkdirAll(orphan, 0o700); err != nil {
		t.Fatalf("mkdir orphan: %v", err)
	}
	old := now.Add(-2 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if n := reg.CleanupExpired(ctx); n != 0 {
		t.Fatalf("nothing should expire yet, removed %d", n)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan dir not pruned")
	}

	now = now.Add(2 * time.Minute)
	if n := reg.CleanupExpired(ctx); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if _, ok := reg.Lookup("idle"); ok {
		t.Fatalf("idle session not expired")
	}
	if _, ok := reg.Lookup("busy"); !ok {
		t.Fatalf("answering session must not expire")
	}
	if _, err := os.Stat(idle.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expired session dir not removed")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	dispatcher := worker.NewDispatcher(worker.Config{MinWorkers: 1, MaxWorkers: 4, QueueSize: 8}, nil)
	defer dispatcher.Stop()
	reg := NewRegistry(t.TempDir(), time.Hour, nil, dispatcher, nil)
	ctx := context.Background()

	pagesFor := map[string][]string{}
	ex := &pathExtractor{pagesByDir: pagesFor}
	gen := &fakeGenerator{reply: "answer"}
	svc := NewService(ex, ai.NewPromptBuilder(), gen, dispatcher, nil, Options{}, nil)

	one, _ := reg.Get(ctx, "one")
	two, _ := reg.Get(ctx, "two")
	ex.set(one.Dir(), []string{"Newton's laws of motion"})
	ex.set(two.Dir(), []string{"The Krebs cycle"})

	var wg sync.WaitGroup
	for _, sess := range []*Session{one, two} {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			if _, err := svc.Upload(ctx, sess, "doc.pdf", pdfBytes()); err != nil {
				t.Errorf("Upload %s: %v", sess.ID, err)
			}
		}(sess)
	}
	wg.Wait()

	if one.Context() != "Newton's laws of motion" || two.Context() != "The Krebs cycle" {
		t.Fatalf("contexts crossed: %q / %q", one.Context(), two.Context())
	}
	if _, err := svc.Ask(ctx, one, "State the first law."); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if p := gen.lastPrompt(); strings.Contains(p, "Krebs") {
		t.Fatalf("session one saw session two's document")
	}
}

// pathExtractor answers per session directory.
type pathExtractor struct {
	mu         sync.Mutex
	pagesByDir map[string][]string
}

func (p *pathExtractor) set(dir string, pages []string) {
	p.mu.Lock()
	p.pagesByDir[dir] = pages
	p.mu.Unlock()
}

func (p *pathExtractor) Extract(_ context.Context, path string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pages, ok := p.pagesByDir[filepath.Dir(path)]
	if !ok {
		return nil, errors.New("unknown session dir")
	}
	return pages, nil
}
