package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exammate/pkg/domain"
	"exammate/pkg/storage"
	"exammate/pkg/store"
	"exammate/services/catalog/internal/app"
	"exammate/services/catalog/internal/authclient"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	appCore, err := app.New(app.Config{Store: mem, Objects: storage.NewMemoryObjectStore()})
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

func seedCatalog(t *testing.T, mem *store.MemoryStore) domain.Pack {
	t.Helper()
	pack := domain.Pack{ID: "p1", Title: "CSE PYQ", Branch: "cse", Price: 19, Type: domain.PackPYQ, CreatedAt: time.Now().UTC()}
	if err := mem.SavePack(pack); err != nil {
		t.Fatalf("seed pack: %v", err)
	}
	if err := mem.SaveSubject(domain.Subject{ID: "s1", PackID: pack.ID, Title: "OS", OrderIdx: 1}); err != nil {
		t.Fatalf("seed subject: %v", err)
	}
	if err := mem.SaveSession(domain.Session{ID: "sess1", SubjectID: "s1", Title: "Dec 2023", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := mem.SaveSessionContent(domain.SessionContent{
		SessionID: "sess1",
		Subject:   "OS",
		Units:     []domain.ContentUnit{{Title: "Unit 1"}},
	}); err != nil {
		t.Fatalf("seed content: %v", err)
	}
	return pack
}

func doRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestPackBrowsingIsPublic(t *testing.T) {
	ts, mem := newTestServer(t)
	seedCatalog(t, mem)

	resp := doRequest(t, http.MethodGet, ts.URL+"/catalog/packs?type=pyq&branch=cse", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Items []domain.Pack `json:"items"`
		Count int           `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Items[0].ID != "p1" {
		t.Fatalf("unexpected list: %+v", list)
	}

	detailResp := doRequest(t, http.MethodGet, ts.URL+"/catalog/packs/p1", "", nil)
	defer detailResp.Body.Close()
	if detailResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 detail, got %d", detailResp.StatusCode)
	}
	var detail app.PackDetail
	if err := json.NewDecoder(detailResp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Subjects) != 1 || len(detail.Subjects[0].Sessions) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestPackListRejectsUnknownType(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, ts.URL+"/catalog/packs?type=mock", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSessionContentGatedByPurchase(t *testing.T) {
	ts, mem := newTestServer(t)
	pack := seedCatalog(t, mem)

	// no token
	resp := doRequest(t, http.MethodGet, ts.URL+"/catalog/sessions/sess1/content", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", resp.StatusCode)
	}

	// authenticated but unpaid
	resp = doRequest(t, http.MethodGet, ts.URL+"/catalog/sessions/sess1/content", userToken, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unpaid expected 402, got %d", resp.StatusCode)
	}
	var errBody struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	resp.Body.Close()
	if errBody.Code != "PAYMENT_REQUIRED" {
		t.Fatalf("expected PAYMENT_REQUIRED code, got %q", errBody.Code)
	}

	// purchase unlocks the content
	if err := mem.SavePurchase(domain.Purchase{ID: "pur1", UserID: "u1", PackID: pack.ID, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	resp = doRequest(t, http.MethodGet, ts.URL+"/catalog/sessions/sess1/content", userToken, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("paid expected 200, got %d", resp.StatusCode)
	}
	var content domain.SessionContent
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if content.SessionID != "sess1" || len(content.Units) != 1 {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	ts, _ := newTestServer(t)
	body := map[string]any{"title": "CSE PYQ", "branch": "cse", "price": 19, "type": "pyq"}

	resp := doRequest(t, http.MethodPost, ts.URL+"/catalog/admin/packs", userToken, body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin expected 403, got %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/catalog/admin/packs", adminToken, body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin expected 201, got %d", resp.StatusCode)
	}
	var pack domain.Pack
	if err := json.NewDecoder(resp.Body).Decode(&pack); err != nil {
		t.Fatalf("decode pack: %v", err)
	}
	if pack.ID == "" || pack.Title != "CSE PYQ" {
		t.Fatalf("unexpected pack: %+v", pack)
	}
}

func TestAdminSubjectAndSessionFlow(t *testing.T) {
	ts, mem := newTestServer(t)
	pack := seedCatalog(t, mem)

	resp := doRequest(t, http.MethodPost, ts.URL+"/catalog/admin/packs/"+pack.ID+"/subjects", adminToken, map[string]any{"title": "DBMS", "orderIdx": 2})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subject expected 201, got %d", resp.StatusCode)
	}
	var subject domain.Subject
	if err := json.NewDecoder(resp.Body).Decode(&subject); err != nil {
		t.Fatalf("decode subject: %v", err)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/catalog/admin/sessions/"+subject.ID, adminToken, map[string]any{"title": "May 2024"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session expected 201, got %d", resp.StatusCode)
	}
	var session domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPut, ts.URL+"/catalog/admin/sessions/"+session.ID+"/content", adminToken, map[string]any{
		"subject": "DBMS",
		"units":   []map[string]any{{"title": "Unit 1"}},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put content expected 200, got %d", resp.StatusCode)
	}

	content, ok, err := mem.GetSessionContent(session.ID)
	if err != nil || !ok {
		t.Fatalf("content not persisted: ok=%v err=%v", ok, err)
	}
	if content.Subject != "DBMS" || len(content.Units) != 1 {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestDeletePackRemovesChildren(t *testing.T) {
	ts, mem := newTestServer(t)
	pack := seedCatalog(t, mem)

	resp := doRequest(t, http.MethodDelete, ts.URL+"/catalog/admin/packs/"+pack.ID, adminToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete expected 200, got %d", resp.StatusCode)
	}
	if _, ok, _ := mem.GetPack(pack.ID); ok {
		t.Fatalf("pack should be deleted")
	}
	if _, ok, _ := mem.GetSession("sess1"); ok {
		t.Fatalf("sessions should be deleted with the pack")
	}
}
