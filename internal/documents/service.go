package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-saas/internal/common"
)

// ChunkSize is the number of characters per ingestion chunk.
const ChunkSize = 1000

var (
	ErrUnsupported = errors.New("unsupported document type")
	ErrTooLarge    = errors.New("document too large")
)

// Enqueuer hands a stored document to the ingestion queue.
type Enqueuer interface {
	PublishDocument(ctx context.Context, documentID string) error
}

type Service struct {
	repo     *Repo
	queue    Enqueuer
	dir      string
	maxBytes int64
	log      logrus.FieldLogger
}

func NewService(repo *Repo, queue Enqueuer, dir string, maxBytes int64, log logrus.FieldLogger) *Service {
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &Service{repo: repo, queue: queue, dir: dir, maxBytes: maxBytes, log: log}
}

// Upload stores the file, records it as queued and enqueues ingestion.
func (s *Service) Upload(ctx context.Context, userID uint64, filename string, r io.Reader) (*Document, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	userDir := filepath.Join(s.dir, fmt.Sprint(userID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(userDir, id+filepath.Ext(filepath.Base(filename)))

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	d := &Document{
		ID:       id,
		UserID:   userID,
		Filename: filepath.Base(filename),
		Path:     path,
		Size:     n,
		Status:   StatusQueued,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	if err := s.queue.PublishDocument(ctx, d.ID); err != nil {
		msg := "enqueue failed"
		_ = s.repo.MarkFailed(ctx, d.ID, msg)
		d.Status = StatusFailed
		d.Error = &msg
		return d, err
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, userID uint64) ([]Document, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Get hides documents owned by someone else.
func (s *Service) Get(ctx context.Context, userID uint64, id string) (*Document, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return d, nil
}

func (s *Service) Delete(ctx context.Context, userID uint64, id string) error {
	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.WithError(err).WithField("document_id", id).Warn("remove document file")
	}
	return nil
}

// Process ingests one document. Errors wrapping ErrUnsupported are not worth retrying.
func (s *Service) Process(ctx context.Context, id string) error {
	if err := s.repo.MarkProcessing(ctx, id); err != nil {
		return err
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// deleted while queued
			return nil
		}
		return err
	}

	chars, chunks, err := countChunks(d.Path)
	if err != nil {
		_ = s.repo.MarkFailed(ctx, id, err.Error())
		return err
	}
	return s.repo.MarkReady(ctx, id, chars, chunks)
}

func countChunks(path string) (int, int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	ct := http.DetectContentType(b)
	if !strings.HasPrefix(ct, "text/") && ct != "application/json" {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
	if !utf8.Valid(b) {
		return 0, 0, fmt.Errorf("%w: invalid utf-8", ErrUnsupported)
	}
	chars := utf8.RuneCount(b)
	chunks := (chars + ChunkSize - 1) / ChunkSize
	return chars, chunks, nil
}

// DeleteUserData removes every document of userID, files included.
func (s *Service) DeleteUserData(ctx context.Context, userID uint64) error {
	docs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := s.repo.Delete(ctx, d.ID); err != nil {
			return err
		}
		if err := os.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("document_id", d.ID).Warn("remove document file")
		}
	}
	return nil
}

// CountByStatus reports how many documents are in each status.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	return s.repo.CountByStatus(ctx)
}
