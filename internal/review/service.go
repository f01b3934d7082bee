package review

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-extract/internal/invoice"
)

// IDGenerator generates unique IDs for reviews
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service handles review operations
type Service struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with a UUID generator and the system clock
func NewService(db DB, storage Storage) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := unsafeChars.ReplaceAllString(filepath.Ext(filename), "")
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(whitespace.ReplaceAllString(base, " "))

	// 50 chars for base, plus extension
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	if ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// SaveDegraded stores the source document and the raw model output of a degraded extraction
func (s *Service) SaveDegraded(filename string, data []byte, mediaType string, degraded *invoice.Degraded) (*Review, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	review := &Review{
		ID:        id,
		Filename:  filename,
		FilePath:  savedPath,
		MediaType: mediaType,
		RawText:   degraded.RawText,
		CreatedAt: now,
	}
	if degraded.Reason != nil {
		review.Reason = degraded.Reason.Error()
		if kind, ok := invoice.KindOf(degraded.Reason); ok {
			review.Kind = kind.String()
		}
	}

	if err := s.db.SaveReview(review); err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving review to database: %w", err)
	}

	slog.Info("Stored degraded extraction for review", "id", id, "kind", review.Kind)
	return review, nil
}

// GetReview retrieves a review by ID
func (s *Service) GetReview(id string) (*Review, error) {
	review, err := s.db.GetReview(id)
	if err != nil {
		return nil, fmt.Errorf("getting review: %w", err)
	}
	return review, nil
}

// ListReviews returns all reviews, newest first
func (s *Service) ListReviews() ([]*Review, error) {
	reviews, err := s.db.ListReviews()
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	return reviews, nil
}

// ListReviewsByKind returns the reviews of one failure kind, newest first. Only
// kinds that degrade can be queued; any other kind is ErrInvalidKind.
func (s *Service) ListReviewsByKind(kind string) ([]*Review, error) {
	if k, ok := invoice.ParseKind(kind); !ok || !k.Recoverable() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	reviews, err := s.db.ListReviewsByKind(kind)
	if err != nil {
		return nil, fmt.Errorf("listing reviews by kind: %w", err)
	}
	return reviews, nil
}

// Summary returns the number of queued reviews per failure kind
func (s *Service) Summary() (map[string]int, error) {
	counts, err := s.db.CountByKind()
	if err != nil {
		return nil, fmt.Errorf("counting reviews: %w", err)
	}
	return counts, nil
}

// DeleteReview removes a review and its file
func (s *Service) DeleteReview(id string) error {
	review, err := s.db.GetReview(id)
	if err != nil {
		return fmt.Errorf("getting review for deletion: %w", err)
	}

	if err := s.storage.Delete(review.FilePath); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete file", "filename", review.FilePath, "error", err)
	}

	if err := s.db.DeleteReview(id); err != nil {
		return fmt.Errorf("deleting review from database: %w", err)
	}
	return nil
}

// GetReviewFile retrieves the source document of a review and its media type
func (s *Service) GetReviewFile(id string) ([]byte, string, error) {
	review, err := s.db.GetReview(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting review: %w", err)
	}

	data, err := s.storage.Get(review.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting review file: %w", err)
	}

	return data, review.MediaType, nil
}
