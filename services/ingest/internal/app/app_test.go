package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"exammate/internal/util"
	"exammate/pkg/domain"
	"exammate/pkg/queue"
	"exammate/pkg/storage"
	"exammate/pkg/store"
)

// fakeQueue records enqueued uploads so tests can drive processing
// synchronously.
type fakeQueue struct {
	jobs    map[string]queue.JobStatus
	handler func(context.Context, queue.JobStatus) error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]queue.JobStatus)}
}

func (q *fakeQueue) Enqueue(_ context.Context, uploadID string) (queue.JobStatus, error) {
	job := queue.JobStatus{
		ID:        util.NewID(),
		UploadID:  uploadID,
		Status:    "queued",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *fakeQueue) GetJob(_ context.Context, jobID string) (queue.JobStatus, bool, error) {
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *fakeQueue) Start(_ context.Context, _ int, handler func(context.Context, queue.JobStatus) error) {
	q.handler = handler
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *storage.MemoryObjectStore, *fakeQueue) {
	t.Helper()
	mem := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	jobQueue := newFakeQueue()
	a, err := New(Config{Store: mem, Objects: objects, Queue: jobQueue})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.Start(context.Background(), 1)
	return a, mem, objects, jobQueue
}

func seedSession(t *testing.T, mem *store.MemoryStore) domain.Session {
	t.Helper()
	pack := domain.Pack{ID: "p1", Title: "CSE PYQ", Price: 19, Type: domain.PackPYQ, CreatedAt: time.Now().UTC()}
	if err := mem.SavePack(pack); err != nil {
		t.Fatalf("seed pack: %v", err)
	}
	if err := mem.SaveSubject(domain.Subject{ID: "s1", PackID: pack.ID, Title: "OS", OrderIdx: 1}); err != nil {
		t.Fatalf("seed subject: %v", err)
	}
	session := domain.Session{ID: "sess1", SubjectID: "s1", Title: "Operating Systems Dec 2023", CreatedAt: time.Now().UTC()}
	if err := mem.SaveSession(session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

const paperHTML = `<html><body>
<p>1. Define an operating system. [5M]</p>
<p>2. Explain paging with a diagram.</p>
</body></html>`

func TestUploadPaperStoresObjectAndEnqueues(t *testing.T) {
	a, mem, objects, jobQueue := newTestApp(t)
	session := seedSession(t, mem)

	result, err := a.UploadPaper(context.Background(), session.ID, "dec-2023.html", strings.NewReader(paperHTML), int64(len(paperHTML)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Upload.Status != domain.IngestQueued {
		t.Fatalf("expected queued status, got %s", result.Upload.Status)
	}
	if result.Job.UploadID != result.Upload.ID {
		t.Fatalf("job not bound to upload: %+v", result.Job)
	}
	if _, err := objects.Get(context.Background(), storage.PaperKey(result.Upload.ID)); err != nil {
		t.Fatalf("paper not stored: %v", err)
	}
	if len(jobQueue.jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(jobQueue.jobs))
	}
}

func TestUploadPaperValidation(t *testing.T) {
	a, mem, _, _ := newTestApp(t)
	session := seedSession(t, mem)

	if _, err := a.UploadPaper(context.Background(), "missing", "x.pdf", strings.NewReader("x"), 1); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := a.UploadPaper(context.Background(), session.ID, "x.docx", strings.NewReader("x"), 1); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := a.UploadPaper(context.Background(), session.ID, "x.pdf", strings.NewReader(""), 0); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestProcessProducesDraftContent(t *testing.T) {
	a, mem, _, jobQueue := newTestApp(t)
	session := seedSession(t, mem)

	result, err := a.UploadPaper(context.Background(), session.ID, "dec-2023.html", strings.NewReader(paperHTML), int64(len(paperHTML)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := jobQueue.handler(context.Background(), result.Job); err != nil {
		t.Fatalf("process: %v", err)
	}

	upload, ok, err := mem.GetPaperUpload(result.Upload.ID)
	if err != nil || !ok {
		t.Fatalf("upload missing: ok=%v err=%v", ok, err)
	}
	if upload.Status != domain.IngestReady {
		t.Fatalf("expected ready, got %s (%s)", upload.Status, upload.ErrorMessage)
	}

	content, ok, err := mem.GetSessionContent(session.ID)
	if err != nil || !ok {
		t.Fatalf("draft content missing: ok=%v err=%v", ok, err)
	}
	if len(content.Units) != 1 {
		t.Fatalf("expected one draft unit, got %d", len(content.Units))
	}
	questions := content.Units[0].Options[0].Questions
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %+v", questions)
	}
	if questions[0].Marks != 5 {
		t.Fatalf("expected marks parsed from tag, got %+v", questions[0])
	}
}

func TestProcessMarksFailureOnGarbageInput(t *testing.T) {
	a, mem, _, jobQueue := newTestApp(t)
	session := seedSession(t, mem)

	garbage := "no exam numbering anywhere"
	result, err := a.UploadPaper(context.Background(), session.ID, "notes.html", strings.NewReader("<p>"+garbage+"</p>"), int64(len(garbage)+7))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := jobQueue.handler(context.Background(), result.Job); err == nil {
		t.Fatalf("expected processing error for content without questions")
	}
	upload, _, _ := mem.GetPaperUpload(result.Upload.ID)
	if upload.Status != domain.IngestFailed {
		t.Fatalf("expected failed status, got %s", upload.Status)
	}
}
