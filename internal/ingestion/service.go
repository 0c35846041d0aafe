package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/jobs"
	"github.com/rpattn/folio/internal/repository"
	"github.com/rpattn/folio/pkg/validator"

	"github.com/google/uuid"
)

const defaultConcurrency = 8

// Progress receives every state change of a running import. *jobs.Tracker
// implements it.
type Progress interface {
	JobID() uuid.UUID
	MarkProcessing()
	SetBook(book domain.Book)
	FileStarted(file int)
	FileFailed(file int, err error)
	FileCompleted(file int)
	SheetStarted(file int, name string) int
	SheetFailed(file, sheet int, err error)
	SheetCompleted(file, sheet int)
	RowSucceeded(file, sheet, row int, created bool)
	RowFailed(file, sheet int, rowErr domain.RowError)
}

var _ Progress = (*jobs.Tracker)(nil)

// Service imports books and their transactions from spreadsheets.
type Service struct {
	books        repository.BookRepository
	transactions repository.TransactionRepository
	terms        repository.TermRepository
	logRepo      repository.IngestionLogRepository
	registry     *jobs.Registry
	validator    *validator.FieldValidator

	concurrency int
	loaderWait  time.Duration
}

type Option func(*Service)

// WithConcurrency bounds the number of rows processed at once per sheet.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLoaderWait sets the batching window of term lookups.
func WithLoaderWait(wait time.Duration) Option {
	return func(s *Service) {
		if wait > 0 {
			s.loaderWait = wait
		}
	}
}

// NewService creates a new ingestion service.
func NewService(
	books repository.BookRepository,
	transactions repository.TransactionRepository,
	terms repository.TermRepository,
	logRepo repository.IngestionLogRepository,
	registry *jobs.Registry,
	opts ...Option,
) *Service {
	service := &Service{
		books:        books,
		transactions: transactions,
		terms:        terms,
		logRepo:      logRepo,
		registry:     registry,
		validator:    validator.NewFieldValidator(),
		concurrency:  defaultConcurrency,
		loaderWait:   2 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// FileInput is one submitted file. Content is decoded inside the job so a bad
// payload only fails its own file.
type FileInput struct {
	Name     string
	Type     string
	Content  string
	Encoding string
}

// Request describes an import submission.
type Request struct {
	Caller   string
	BookName string
	Files    []FileInput
}

// Submit registers a job and starts it in the background. It returns the
// pending snapshot without waiting for any file to be read.
func (s *Service) Submit(ctx context.Context, req Request) (domain.ImportJob, error) {
	if len(req.Files) == 0 {
		return domain.ImportJob{}, errors.New("at least one file is required")
	}
	manifest := make([]domain.FileSummary, len(req.Files))
	for i, file := range req.Files {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			name = fmt.Sprintf("file-%d", i+1)
			req.Files[i].Name = name
		}
		fileType, err := ResolveFileType(file.Type, name)
		if err != nil {
			fileType = strings.TrimSpace(file.Type)
		}
		manifest[i] = domain.FileSummary{Name: name, Type: fileType}
	}

	job := s.registry.Create(req.Caller, manifest)
	if err := s.registry.Start(job.ID, func(ctx context.Context, tracker *jobs.Tracker) {
		s.run(ctx, tracker, req)
	}); err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to start import job: %w", err)
	}
	log.Printf("[import] job %s queued with %d file(s)", job.ID, len(req.Files))
	return job, nil
}

// Logs pages through the persisted row failures of a job in the order they
// were recorded.
func (s *Service) Logs(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.IngestionLogEntry, error) {
	if s.logRepo == nil {
		return []domain.IngestionLogEntry{}, nil
	}
	entries, err := s.logRepo.List(ctx, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs for job %s: %w", jobID, err)
	}
	return entries, nil
}

func (s *Service) recordFailure(ctx context.Context, jobID uuid.UUID, fileName, sheetName string, rowNumber *int, message string) {
	if s.logRepo == nil || message == "" {
		return
	}
	entry := domain.IngestionLogEntry{
		JobID:        jobID,
		FileName:     fileName,
		SheetName:    sheetName,
		RowNumber:    rowNumber,
		ErrorMessage: message,
	}
	if err := s.logRepo.Record(ctx, entry); err != nil {
		log.Printf("[import] job %s: failed to record ingestion log: %v", jobID, err)
	}
}
