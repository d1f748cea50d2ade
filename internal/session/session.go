package session

import (
	"errors"
	"sync"
	"time"

	"pdfqa/internal/models"
)

var (
	// ErrUpload marks a rejected upload: not a PDF, unreadable or too large.
	ErrUpload = errors.New("upload rejected")
	// ErrTooLarge accompanies ErrUpload when the size limit is exceeded.
	ErrTooLarge = errors.New("file too large")
	// ErrNoDocument is returned when a question arrives before any document.
	ErrNoDocument = errors.New("no document loaded")
	// ErrBusy is returned while the session is answering or loading a document.
	ErrBusy = errors.New("session is busy")
	// ErrSuperseded is returned when a newer upload replaced the work in flight.
	ErrSuperseded = errors.New("superseded by a newer upload")
	// ErrEnded is returned for work on a session that has been ended.
	ErrEnded = errors.New("session ended")
)

// Session is the per-browser state machine. All fields are guarded by mu.
type Session struct {
	ID  string
	dir string

	mu         sync.Mutex
	state      models.State
	loading    bool
	doc        *models.Document
	context    string
	epoch      uint64
	uploads    int
	lastAnswer *models.Answer
	lastSeen   time.Time
	ended      bool
}

// View is a read-only copy of the session for rendering.
type View struct {
	ID         string           `json:"session_id"`
	State      models.State     `json:"state"`
	Loading    bool             `json:"loading"`
	Document   *models.Document `json:"document,omitempty"`
	LastAnswer *models.Answer   `json:"last_answer,omitempty"`
}

func newSession(id, dir string, now time.Time) *Session {
	return &Session{
		ID:       id,
		dir:      dir,
		state:    models.StateNoDocument,
		lastSeen: now,
	}
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{ID: s.ID, State: s.state, Loading: s.loading}
	if s.doc != nil {
		doc := *s.doc
		v.Document = &doc
	}
	if s.lastAnswer != nil {
		ans := *s.lastAnswer
		v.LastAnswer = &ans
	}
	return v
}

func (s *Session) State() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context returns the assembled document text questions are answered from.
func (s *Session) Context() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// Dir is the directory holding this session's uploads.
func (s *Session) Dir() string {
	return s.dir
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.mu.Unlock()
}

// expired reports whether the session sat idle longer than ttl. A session
// doing work never expires.
func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading || s.state == models.StateAnswering {
		return false
	}
	return now.Sub(s.lastSeen) > ttl
}

// end marks the session dead and invalidates any work in flight.
func (s *Session) end() {
	s.mu.Lock()
	s.ended = true
	s.epoch++
	s.loading = false
	s.mu.Unlock()
}

func (s *Session) restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap == nil || snap.Document == nil {
		return
	}
	doc := *snap.Document
	s.doc = &doc
	s.context = snap.Context
	s.state = models.StateDocumentLoaded
	if snap.LastAnswer != nil {
		ans := *snap.LastAnswer
		s.lastAnswer = &ans
	}
}

// snapshotLocked captures the loaded document; caller holds s.mu.
func (s *Session) snapshotLocked() *Snapshot {
	if s.doc == nil {
		return nil
	}
	doc := *s.doc
	snap := &Snapshot{SessionID: s.ID, Document: &doc, Context: s.context}
	if s.lastAnswer != nil {
		ans := *s.lastAnswer
		snap.LastAnswer = &ans
	}
	return snap
}
