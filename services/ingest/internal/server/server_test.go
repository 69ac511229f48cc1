package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exammate/internal/util"
	"exammate/pkg/domain"
	"exammate/pkg/queue"
	"exammate/pkg/storage"
	"exammate/pkg/store"
	"exammate/services/ingest/internal/app"
	"exammate/services/ingest/internal/authclient"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

type fakeQueue struct {
	jobs map[string]queue.JobStatus
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

func (q *fakeQueue) Start(_ context.Context, _ int, _ func(context.Context, queue.JobStatus) error) {}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	appCore, err := app.New(app.Config{
		Store:   mem,
		Objects: storage.NewMemoryObjectStore(),
		Queue:   newFakeQueue(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/me" {
			http.NotFound(w, r)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer " + userToken:
			_ = json.NewEncoder(w).Encode(domain.User{ID: "u1", Role: domain.RoleUser, Status: domain.StatusActive})
		case "Bearer " + adminToken:
			_ = json.NewEncoder(w).Encode(domain.User{ID: "a1", Role: domain.RoleAdmin, Status: domain.StatusActive})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		}
	}))
	t.Cleanup(authSrv.Close)

	srv := New(Config{App: appCore, Auth: authclient.NewClient(authSrv.URL)})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, mem
}

func seedSession(t *testing.T, mem *store.MemoryStore) {
	t.Helper()
	if err := mem.SavePack(domain.Pack{ID: "p1", Title: "CSE PYQ", Price: 19, Type: domain.PackPYQ, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed pack: %v", err)
	}
	if err := mem.SaveSubject(domain.Subject{ID: "s1", PackID: "p1", Title: "Operating Systems", OrderIdx: 1}); err != nil {
		t.Fatalf("seed subject: %v", err)
	}
	if err := mem.SaveSession(domain.Session{ID: "sess1", SubjectID: "s1", Title: "Operating Systems Dec 2023", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func uploadPaper(t *testing.T, url, token, sessionID, filename, content string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("sessionId", sessionID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url+"/ingest/papers", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

const paperHTML = `<html><body>
<p>1. Explain paging with a neat diagram. [5M]</p>
<p>2) Differentiate between process and thread.</p>
</body></html>`

func TestUploadPaperRequiresAdmin(t *testing.T) {
	ts, mem := newTestServer(t)
	seedSession(t, mem)

	resp, _ := uploadPaper(t, ts.URL, "", "sess1", "paper.html", paperHTML)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous upload: status %d, want 401", resp.StatusCode)
	}

	resp, body := uploadPaper(t, ts.URL, userToken, "sess1", "paper.html", paperHTML)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member upload: status %d, want 403", resp.StatusCode)
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "INGEST_FORBIDDEN" {
		t.Fatalf("error code = %q, want INGEST_FORBIDDEN", errResp.Code)
	}
}

func TestUploadPaperAndPollStatus(t *testing.T) {
	ts, mem := newTestServer(t)
	seedSession(t, mem)

	resp, body := uploadPaper(t, ts.URL, adminToken, "sess1", "os-dec-2023.html", paperHTML)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", resp.StatusCode, body)
	}
	var result app.UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Upload.SessionID != "sess1" || result.Upload.Status != domain.IngestQueued {
		t.Fatalf("upload = %+v", result.Upload)
	}
	if result.Job.ID == "" || result.Job.UploadID != result.Upload.ID {
		t.Fatalf("job = %+v", result.Job)
	}

	resp, body = doGet(t, ts.URL+"/ingest/papers/"+result.Upload.ID, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get upload: status %d body %s", resp.StatusCode, body)
	}
	var upload domain.PaperUpload
	if err := json.Unmarshal(body, &upload); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if upload.OriginalFilename != "os-dec-2023.html" {
		t.Fatalf("filename = %q", upload.OriginalFilename)
	}

	resp, body = doGet(t, ts.URL+"/ingest/jobs/"+result.Job.ID, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job: status %d body %s", resp.StatusCode, body)
	}
	var job queue.JobStatus
	if err := json.Unmarshal(body, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.UploadID != result.Upload.ID {
		t.Fatalf("job upload = %q, want %q", job.UploadID, result.Upload.ID)
	}
}

func TestUploadPaperValidation(t *testing.T) {
	ts, mem := newTestServer(t)
	seedSession(t, mem)

	resp, body := uploadPaper(t, ts.URL, adminToken, "missing", "paper.html", paperHTML)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session: status %d body %s", resp.StatusCode, body)
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "INGEST_SESSION_NOT_FOUND" {
		t.Fatalf("error code = %q", errResp.Code)
	}

	resp, body = uploadPaper(t, ts.URL, adminToken, "sess1", "notes.docx", "binary")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported format: status %d body %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "INGEST_UNSUPPORTED_FORMAT" {
		t.Fatalf("error code = %q", errResp.Code)
	}
}

func TestJobLookupUnknownID(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doGet(t, ts.URL+"/ingest/jobs/unknown", adminToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func doGet(t *testing.T, url, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}
