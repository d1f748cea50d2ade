package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"pdfqa/internal/models"
	"pdfqa/internal/service/ai"
	"pdfqa/internal/service/document"
	"pdfqa/internal/worker"
)

const pdfMimeType = "application/pdf"

type Extractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
}

type PromptBuilder interface {
	Build(ctx context.Context, content, question string) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (*models.Answer, error)
}

// Runner executes blocking work off the request goroutine.
type Runner interface {
	Do(ctx context.Context, jobType worker.JobType, sessionID string, fn func()) error
}

type Options struct {
	MaxUploadBytes int64
	SnapshotTTL    time.Duration
}

// Service drives the upload and question flow of a session.
type Service struct {
	extractor Extractor
	prompts   PromptBuilder
	generator Generator
	runner    Runner
	store     SnapshotStore
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func NewService(extractor Extractor, prompts PromptBuilder, generator Generator, runner Runner, store SnapshotStore, opts Options, logger *zap.Logger) *Service {
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = time.Hour
	}
	return &Service{
		extractor: extractor,
		prompts:   prompts,
		generator: generator,
		runner:    runner,
		store:     store,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// MaxUploadBytes is the accepted upload size limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.opts.MaxUploadBytes
}

// Upload replaces the session's document. It is allowed in every state; an
// answer still being generated is discarded. On extraction failure the
// session falls back to no document.
func (s *Service) Upload(ctx context.Context, sess *Session, fileName string, data []byte) (*models.Document, error) {
	if err := s.validateUpload(fileName, data); err != nil {
		s.logger.Info("upload rejected", zap.String("session", sess.ID), zap.String("file", fileName), zap.Error(err))
		return nil, err
	}

	now := s.now()
	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return nil, ErrEnded
	}
	sess.uploads++
	path := filepath.Join(sess.dir, fmt.Sprintf("upload-%d.pdf", sess.uploads))
	sess.mu.Unlock()

	// a file that cannot be stored leaves the session untouched
	if err := storeUpload(sess.dir, path, data); err != nil {
		s.logger.Warn("store upload failed", zap.String("session", sess.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: store file: %v", ErrUpload, err)
	}

	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		removeFile(s.logger, path)
		return nil, ErrEnded
	}
	sess.epoch++
	epoch := sess.epoch
	if sess.state == models.StateAnswering {
		// the answer in flight will see the new epoch and be dropped
		sess.state = models.StateDocumentLoaded
	}
	sess.loading = true
	sess.lastSeen = now
	sess.mu.Unlock()

	// extraction always runs to completion so the job never outlives its results
	jobCtx := context.WithoutCancel(ctx)
	var pages []string
	var extractErr error
	runErr := s.runner.Do(jobCtx, worker.Extract, sess.ID, func() {
		pages, extractErr = s.extractor.Extract(jobCtx, path)
	})
	if runErr != nil {
		return nil, s.abortUpload(sess, epoch, path, runErr)
	}

	sess.mu.Lock()
	if sess.epoch != epoch || sess.ended {
		sess.mu.Unlock()
		removeFile(s.logger, path)
		return nil, ErrSuperseded
	}
	sess.loading = false
	prev := sess.doc

	if extractErr != nil {
		sess.doc = nil
		sess.context = ""
		sess.lastAnswer = nil
		sess.state = models.StateNoDocument
		sess.mu.Unlock()

		removeFile(s.logger, path)
		if prev != nil {
			removeFile(s.logger, prev.StoredPath)
		}
		if err := s.store.Delete(ctx, sess.ID); err != nil {
			s.logger.Warn("drop snapshot failed", zap.String("session", sess.ID), zap.Error(err))
		}
		if !errors.Is(extractErr, document.ErrExtraction) {
			extractErr = fmt.Errorf("%w: %v", document.ErrExtraction, extractErr)
		}
		s.logger.Warn("extraction failed", zap.String("session", sess.ID), zap.String("file", fileName), zap.Error(extractErr))
		return nil, extractErr
	}

	total := document.JoinedLength(pages)
	doc := &models.Document{
		FileName:   filepath.Base(fileName),
		StoredPath: path,
		MimeType:   pdfMimeType,
		Size:       int64(len(data)),
		Pages:      len(pages),
		TotalChars: total,
		Truncated:  total > document.MaxContextChars,
		UploadedAt: now,
	}
	sess.doc = doc
	sess.context = document.Assemble(pages)
	sess.lastAnswer = nil
	sess.state = models.StateDocumentLoaded
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	if prev != nil && prev.StoredPath != path {
		removeFile(s.logger, prev.StoredPath)
	}
	s.saveSnapshot(ctx, snap)
	s.logger.Info("document loaded",
		zap.String("session", sess.ID),
		zap.String("file", doc.FileName),
		zap.Int("pages", doc.Pages),
		zap.Int("chars", doc.TotalChars),
		zap.Bool("truncated", doc.Truncated))

	out := *doc
	return &out, nil
}

// Ask answers one question against the loaded document. The empty string is
// a no-op and returns a nil answer with no error.
func (s *Service) Ask(ctx context.Context, sess *Session, question string) (*models.Answer, error) {
	if question == "" {
		return nil, nil
	}

	sess.mu.Lock()
	switch {
	case sess.ended:
		sess.mu.Unlock()
		return nil, ErrEnded
	case sess.loading || sess.state == models.StateAnswering:
		sess.mu.Unlock()
		return nil, ErrBusy
	case sess.state == models.StateNoDocument || sess.doc == nil:
		sess.mu.Unlock()
		return nil, ErrNoDocument
	}
	sess.state = models.StateAnswering
	sess.lastSeen = s.now()
	epoch := sess.epoch
	content := sess.context
	sess.mu.Unlock()

	// no user abort: the question runs until the backend answers or fails
	jobCtx := context.WithoutCancel(ctx)
	var answer *models.Answer
	var genErr error
	prompt, err := s.prompts.Build(jobCtx, content, question)
	if err == nil {
		err = s.runner.Do(jobCtx, worker.Generate, sess.ID, func() {
			answer, genErr = s.generator.Generate(jobCtx, prompt)
		})
	}

	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return nil, ErrEnded
	}
	if sess.epoch != epoch {
		sess.mu.Unlock()
		s.logger.Info("answer discarded", zap.String("session", sess.ID))
		return nil, ErrSuperseded
	}
	sess.state = models.StateDocumentLoaded
	sess.lastSeen = s.now()
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	if genErr == nil && answer == nil {
		genErr = errors.New("empty answer")
	}
	if genErr != nil {
		sess.mu.Unlock()
		if !errors.Is(genErr, ai.ErrGeneration) {
			genErr = fmt.Errorf("%w: %v", ai.ErrGeneration, genErr)
		}
		s.logger.Warn("generation failed", zap.String("session", sess.ID), zap.Error(genErr))
		return nil, genErr
	}
	answer.Question = question
	sess.lastAnswer = answer
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.saveSnapshot(ctx, snap)
	out := *answer
	return &out, nil
}

func (s *Service) validateUpload(fileName string, data []byte) error {
	if !strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return fmt.Errorf("%w: %q is not a .pdf file", ErrUpload, filepath.Base(fileName))
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: file is empty", ErrUpload)
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return fmt.Errorf("%w: %w: limit is %d bytes", ErrUpload, ErrTooLarge, s.opts.MaxUploadBytes)
	}
	if ct := http.DetectContentType(data); ct != pdfMimeType {
		return fmt.Errorf("%w: content is %s, not a pdf", ErrUpload, ct)
	}
	return nil
}

// abortUpload undoes the loading flag after the extract job never ran and
// reports why: an ended or newer upload wins over the dispatcher error.
func (s *Service) abortUpload(sess *Session, epoch uint64, path string, cause error) error {
	sess.mu.Lock()
	ended := sess.ended
	superseded := sess.epoch != epoch
	if !superseded {
		sess.loading = false
	}
	sess.mu.Unlock()
	removeFile(s.logger, path)
	switch {
	case ended:
		return ErrEnded
	case superseded:
		return ErrSuperseded
	}
	return cause
}

func (s *Service) saveSnapshot(ctx context.Context, snap *Snapshot) {
	if snap == nil {
		return
	}
	if err := s.store.Save(context.WithoutCancel(ctx), snap, s.opts.SnapshotTTL); err != nil {
		s.logger.Warn("save snapshot failed", zap.String("session", snap.SessionID), zap.Error(err))
	}
}

func storeUpload(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func removeFile(logger *zap.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("remove upload failed", zap.String("path", path), zap.Error(err))
	}
}
