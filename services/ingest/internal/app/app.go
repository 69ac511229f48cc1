package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"exammate/internal/util"
	"exammate/pkg/domain"
	"exammate/pkg/queue"
	"exammate/pkg/storage"
	"exammate/pkg/store"
)

// Config holds runtime configuration.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Queue       JobQueue

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	RedisAddr       string
	RedisPassword   string
	QueueName       string
	QueueGroup      string
	QueueMaxRetries int
	QueueRetryDelay time.Duration

	MaxUploadBytes int64
}

// JobQueue is the slice of the Redis stream queue the app depends on.
type JobQueue interface {
	Enqueue(ctx context.Context, uploadID string) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
	Start(ctx context.Context, concurrency int, handler func(context.Context, queue.JobStatus) error)
}

// App accepts raw paper uploads and turns them into draft session content
// for editorial cleanup.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	queue          JobQueue
	maxUploadBytes int64
}

// New constructs the ingest service with persistence, object storage, and
// the job queue.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objStore := cfg.Objects
	if objStore == nil {
		var err error
		objStore, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	jobQueue := cfg.Queue
	if jobQueue == nil {
		var err error
		jobQueue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.QueueName,
			Group:      cfg.QueueGroup,
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: cfg.QueueRetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("init job queue: %w", err)
		}
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &App{
		store:          dataStore,
		objects:        objStore,
		queue:          jobQueue,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

// UploadResult pairs the stored upload record with its queue job.
type UploadResult struct {
	Upload domain.PaperUpload `json:"upload"`
	Job    queue.JobStatus    `json:"job"`
}

// UploadPaper stores the raw paper in object storage, records the upload,
// and enqueues extraction. The session must already exist so the extracted
// draft has somewhere to land.
func (a *App) UploadPaper(ctx context.Context, sessionID, filename string, file io.Reader, size int64) (UploadResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return UploadResult{}, fmt.Errorf("sessionId required")
	}
	if _, ok, err := a.store.GetSession(sessionID); err != nil {
		return UploadResult{}, fmt.Errorf("fetch session: %w", err)
	} else if !ok {
		return UploadResult{}, ErrSessionNotFound
	}
	if size <= 0 {
		return UploadResult{}, fmt.Errorf("file is empty")
	}
	if size > a.maxUploadBytes {
		return UploadResult{}, fmt.Errorf("file exceeds max size of %d bytes", a.maxUploadBytes)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" && ext != ".html" && ext != ".htm" {
		return UploadResult{}, ErrUnsupportedFormat
	}

	uploadID := util.NewID()
	key := storage.PaperKey(uploadID)
	contentType := "application/pdf"
	if ext != ".pdf" {
		contentType = "text/html"
	}
	if err := a.objects.Put(ctx, key, file, size, contentType); err != nil {
		return UploadResult{}, fmt.Errorf("store paper: %w", err)
	}

	now := time.Now().UTC()
	upload := domain.PaperUpload{
		ID:               uploadID,
		SessionID:        sessionID,
		OriginalFilename: sanitizeFilename(filepath.Base(filename)),
		StorageKey:       key,
		Status:           domain.IngestQueued,
		SizeBytes:        size,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.SavePaperUpload(upload); err != nil {
		// compensate so no orphaned object lingers
		_ = a.objects.Delete(ctx, key)
		return UploadResult{}, fmt.Errorf("save upload: %w", err)
	}

	job, err := a.queue.Enqueue(ctx, uploadID)
	if err != nil {
		_ = a.store.SetPaperUploadStatus(uploadID, domain.IngestFailed, "could not enqueue extraction")
		return UploadResult{}, fmt.Errorf("enqueue extraction: %w", err)
	}
	return UploadResult{Upload: upload, Job: job}, nil
}

// GetUpload returns the upload record.
func (a *App) GetUpload(id string) (domain.PaperUpload, bool, error) {
	return a.store.GetPaperUpload(id)
}

// GetJob returns the queue job status.
func (a *App) GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	return a.queue.GetJob(ctx, jobID)
}

// Start launches the extraction workers. It returns immediately; workers
// run until the context is cancelled.
func (a *App) Start(ctx context.Context, concurrency int) {
	a.queue.Start(ctx, concurrency, a.process)
}

// process handles one queued upload. Returning an error lets the queue
// retry up to its limit.
func (a *App) process(ctx context.Context, job queue.JobStatus) error {
	upload, ok, err := a.store.GetPaperUpload(job.UploadID)
	if err != nil {
		return fmt.Errorf("fetch upload: %w", err)
	}
	if !ok {
		// the record vanished; retrying cannot help
		slog.Warn("upload missing for queued job", "jobId", job.ID, "uploadId", job.UploadID)
		return nil
	}
	if err := a.store.SetPaperUploadStatus(upload.ID, domain.IngestProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	draft, err := a.extractDraft(ctx, upload)
	if err != nil {
		_ = a.store.SetPaperUploadStatus(upload.ID, domain.IngestFailed, err.Error())
		return fmt.Errorf("extract draft: %w", err)
	}

	if err := a.store.SaveSessionContent(draft); err != nil {
		_ = a.store.SetPaperUploadStatus(upload.ID, domain.IngestFailed, "could not save draft content")
		return fmt.Errorf("save draft: %w", err)
	}
	if err := a.store.SetPaperUploadStatus(upload.ID, domain.IngestReady, ""); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	slog.Info("paper extracted", "uploadId", upload.ID, "sessionId", upload.SessionID, "units", len(draft.Units))
	return nil
}

func (a *App) extractDraft(ctx context.Context, upload domain.PaperUpload) (domain.SessionContent, error) {
	reader, err := a.objects.Get(ctx, upload.StorageKey)
	if err != nil {
		return domain.SessionContent{}, fmt.Errorf("fetch object: %w", err)
	}
	defer reader.Close()

	session, ok, err := a.store.GetSession(upload.SessionID)
	if err != nil {
		return domain.SessionContent{}, fmt.Errorf("fetch session: %w", err)
	}
	if !ok {
		return domain.SessionContent{}, ErrSessionNotFound
	}

	ext := strings.ToLower(filepath.Ext(upload.OriginalFilename))
	var pages []string
	switch ext {
	case ".html", ".htm":
		pages, err = extractHTMLPages(reader)
	default:
		pages, err = extractPDFPages(reader)
	}
	if err != nil {
		return domain.SessionContent{}, err
	}

	units := buildDraftUnits(pages)
	if len(units) == 0 {
		return domain.SessionContent{}, fmt.Errorf("no content extracted")
	}
	return domain.SessionContent{
		SessionID: upload.SessionID,
		Subject:   session.Title,
		Units:     units,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", "\x00", "")
	name = replacer.Replace(name)
	if name == "" {
		return "paper"
	}
	return name
}
