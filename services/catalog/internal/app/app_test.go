package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"exammate/pkg/domain"
	"exammate/pkg/storage"
	"exammate/pkg/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *storage.MemoryObjectStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	a, err := New(Config{Store: mem, Objects: objects})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem, objects
}

func seedPack(t *testing.T, mem *store.MemoryStore, id string, packType domain.PackType, branch string) domain.Pack {
	t.Helper()
	pack := domain.Pack{
		ID:        id,
		Title:     "Pack " + id,
		Branch:    branch,
		Price:     19,
		Type:      packType,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := mem.SavePack(pack); err != nil {
		t.Fatalf("seed pack: %v", err)
	}
	return pack
}

func TestListPacksFiltersByTypeAndBranch(t *testing.T) {
	a, mem, _ := newTestApp(t)
	seedPack(t, mem, "p1", domain.PackPYQ, "cse")
	seedPack(t, mem, "p2", domain.PackModel, "cse")
	seedPack(t, mem, "p3", domain.PackPYQ, "ece")

	packs, err := a.ListPacks(domain.PackPYQ, "cse")
	if err != nil {
		t.Fatalf("list packs: %v", err)
	}
	if len(packs) != 1 || packs[0].ID != "p1" {
		t.Fatalf("expected only p1, got %+v", packs)
	}

	all, err := a.ListPacks("", "")
	if err != nil {
		t.Fatalf("list all packs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 packs, got %d", len(all))
	}
}

func TestParsePackTypeRejectsUnknownValues(t *testing.T) {
	if _, err := ParsePackType("pyq"); err != nil {
		t.Fatalf("pyq should parse: %v", err)
	}
	if _, err := ParsePackType(""); err != nil {
		t.Fatalf("empty should parse: %v", err)
	}
	if _, err := ParsePackType("mock"); !errors.Is(err, ErrInvalidPackType) {
		t.Fatalf("expected ErrInvalidPackType, got %v", err)
	}
}

func TestPackDetailOrdersSubjectsAndIncludesSessions(t *testing.T) {
	a, mem, _ := newTestApp(t)
	pack := seedPack(t, mem, "p1", domain.PackPYQ, "cse")
	_ = mem.SaveSubject(domain.Subject{ID: "s2", PackID: pack.ID, Title: "DBMS", OrderIdx: 2})
	_ = mem.SaveSubject(domain.Subject{ID: "s1", PackID: pack.ID, Title: "OS", OrderIdx: 1})
	_ = mem.SaveSession(domain.Session{ID: "sess1", SubjectID: "s1", Title: "Dec 2023", CreatedAt: time.Now().UTC()})
	_ = mem.SaveSession(domain.Session{ID: "sess2", SubjectID: "s1", Title: "May 2024", CreatedAt: time.Now().UTC().Add(time.Second)})

	detail, err := a.PackDetail(context.Background(), pack.ID)
	if err != nil {
		t.Fatalf("pack detail: %v", err)
	}
	if len(detail.Subjects) != 2 {
		t.Fatalf("expected 2 subjects, got %d", len(detail.Subjects))
	}
	if detail.Subjects[0].Subject.ID != "s1" || detail.Subjects[1].Subject.ID != "s2" {
		t.Fatalf("subjects not ordered by orderIdx: %+v", detail.Subjects)
	}
	sessions := detail.Subjects[0].Sessions
	if len(sessions) != 2 || sessions[0].ID != "sess1" || sessions[1].ID != "sess2" {
		t.Fatalf("unexpected sessions for s1: %+v", sessions)
	}
}

func TestPackDetailUnknownPack(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.PackDetail(context.Background(), "missing"); !errors.Is(err, ErrPackNotFound) {
		t.Fatalf("expected ErrPackNotFound, got %v", err)
	}
}

func TestSessionContentRequiresPurchase(t *testing.T) {
	a, mem, _ := newTestApp(t)
	pack := seedPack(t, mem, "p1", domain.PackPYQ, "cse")
	_ = mem.SaveSubject(domain.Subject{ID: "s1", PackID: pack.ID, Title: "OS", OrderIdx: 1})
	_ = mem.SaveSession(domain.Session{ID: "sess1", SubjectID: "s1", Title: "Dec 2023", CreatedAt: time.Now().UTC()})
	_ = mem.SaveSessionContent(domain.SessionContent{
		SessionID: "sess1",
		Subject:   "OS",
		Units:     []domain.ContentUnit{{Title: "Unit 1"}},
	})

	user := domain.User{ID: "u1", Role: domain.RoleUser}
	if _, err := a.SessionContent(user, "sess1"); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("expected ErrPaymentRequired before purchase, got %v", err)
	}

	_ = mem.SavePurchase(domain.Purchase{ID: "pur1", UserID: "u1", PackID: pack.ID, CreatedAt: time.Now().UTC()})
	content, err := a.SessionContent(user, "sess1")
	if err != nil {
		t.Fatalf("content after purchase: %v", err)
	}
	if content.SessionID != "sess1" || len(content.Units) != 1 {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestSessionContentAdminBypassesPaywall(t *testing.T) {
	a, mem, _ := newTestApp(t)
	pack := seedPack(t, mem, "p1", domain.PackPYQ, "cse")
	_ = mem.SaveSubject(domain.Subject{ID: "s1", PackID: pack.ID, Title: "OS", OrderIdx: 1})
	_ = mem.SaveSession(domain.Session{ID: "sess1", SubjectID: "s1", Title: "Dec 2023", CreatedAt: time.Now().UTC()})
	_ = mem.SaveSessionContent(domain.SessionContent{SessionID: "sess1", Subject: "OS"})

	admin := domain.User{ID: "a1", Role: domain.RoleAdmin}
	if _, err := a.SessionContent(admin, "sess1"); err != nil {
		t.Fatalf("admin should bypass paywall: %v", err)
	}
}

func TestSessionContentNotReady(t *testing.T) {
	a, mem, _ := newTestApp(t)
	pack := seedPack(t, mem, "p1", domain.PackPYQ, "cse")
	_ = mem.SaveSubject(domain.Subject{ID: "s1", PackID: pack.ID, Title: "OS", OrderIdx: 1})
	_ = mem.SaveSession(domain.Session{ID: "sess1", SubjectID: "s1", Title: "Dec 2023", CreatedAt: time.Now().UTC()})
	_ = mem.SavePurchase(domain.Purchase{ID: "pur1", UserID: "u1", PackID: pack.ID, CreatedAt: time.Now().UTC()})

	user := domain.User{ID: "u1", Role: domain.RoleUser}
	if _, err := a.SessionContent(user, "sess1"); !errors.Is(err, ErrContentNotReady) {
		t.Fatalf("expected ErrContentNotReady, got %v", err)
	}
	if _, err := a.SessionContent(user, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSyllabusURLUsesDefaultKey(t *testing.T) {
	a, mem, objects := newTestApp(t)
	pack := seedPack(t, mem, "p1", domain.PackPYQ, "cse")
	_ = objects.Put(context.Background(), storage.SyllabusKey(pack.ID), strings.NewReader("%PDF-1.4"), 8, "application/pdf")

	url, err := a.SyllabusURL(context.Background(), pack.ID)
	if err != nil {
		t.Fatalf("syllabus url: %v", err)
	}
	if !strings.Contains(url, storage.SyllabusKey(pack.ID)) {
		t.Fatalf("url should reference syllabus key, got %q", url)
	}
}

func TestUpsertPackValidatesInput(t *testing.T) {
	a, _, _ := newTestApp(t)
	cases := []struct {
		name  string
		input PackInput
		want  error
	}{
		{"missing title", PackInput{Price: 19, Type: domain.PackPYQ}, ErrTitleRequired},
		{"zero price", PackInput{Title: "X", Type: domain.PackPYQ}, ErrInvalidPrice},
		{"bad type", PackInput{Title: "X", Price: 19, Type: "mock"}, ErrInvalidPackType},
	}
	for _, tc := range cases {
		if _, err := a.UpsertPack("", tc.input); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestUpsertPackPreservesCreatedAtOnUpdate(t *testing.T) {
	a, _, _ := newTestApp(t)
	created, err := a.UpsertPack("", PackInput{Title: "CSE PYQ", Branch: "cse", Price: 19, Type: domain.PackPYQ})
	if err != nil {
		t.Fatalf("create pack: %v", err)
	}
	updated, err := a.UpsertPack(created.ID, PackInput{Title: "CSE PYQ 2024", Branch: "cse", Price: 29, Type: domain.PackPYQ})
	if err != nil {
		t.Fatalf("update pack: %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update must keep createdAt: %v vs %v", updated.CreatedAt, created.CreatedAt)
	}
	if updated.Title != "CSE PYQ 2024" || updated.Price != 29 {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestUpsertSubjectRefreshesPackCount(t *testing.T) {
	a, mem, _ := newTestApp(t)
	pack := seedPack(t, mem, "p1", domain.PackPYQ, "cse")

	if _, err := a.UpsertSubject(pack.ID, "", "OS", 1); err != nil {
		t.Fatalf("upsert subject: %v", err)
	}
	if _, err := a.UpsertSubject(pack.ID, "", "DBMS", 2); err != nil {
		t.Fatalf("upsert second subject: %v", err)
	}
	got, _, err := mem.GetPack(pack.ID)
	if err != nil {
		t.Fatalf("get pack: %v", err)
	}
	if got.SubjectsCount != 2 {
		t.Fatalf("expected subjectsCount 2, got %d", got.SubjectsCount)
	}
}

func TestUpsertSessionGeneratesSlug(t *testing.T) {
	a, mem, _ := newTestApp(t)
	pack := seedPack(t, mem, "p1", domain.PackPYQ, "cse")
	_ = mem.SaveSubject(domain.Subject{ID: "s1", PackID: pack.ID, Title: "OS", OrderIdx: 1})

	session, err := a.UpsertSession("s1", "", "", "Dec 2023 (Regular)", "")
	if err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	if session.Slug != "dec-2023-regular" {
		t.Fatalf("unexpected slug %q", session.Slug)
	}
}
