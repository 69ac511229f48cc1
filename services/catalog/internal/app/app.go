package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"exammate/internal/util"
	"exammate/pkg/domain"
	"exammate/pkg/storage"
	"exammate/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	Objects        storage.ObjectStore
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// App serves the pack catalogue, previews, and payment-gated content.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	presignExpiry time.Duration
}

// New constructs the application with database storage and object storage.
func New(cfg Config) (*App, error) {
	objStore := cfg.Objects
	if objStore == nil {
		var err error
		objStore, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
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
	return &App{
		store:         dataStore,
		objects:       objStore,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// ParsePackType validates the catalogue filter value. Empty means all types.
func ParsePackType(raw string) (domain.PackType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case string(domain.PackPYQ):
		return domain.PackPYQ, nil
	case string(domain.PackModel):
		return domain.PackModel, nil
	default:
		return "", ErrInvalidPackType
	}
}

// ListPacks returns packs filtered by type and branch.
func (a *App) ListPacks(packType domain.PackType, branch string) ([]domain.Pack, error) {
	packs, err := a.store.ListPacks(packType, strings.TrimSpace(branch))
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	return packs, nil
}

// SubjectPreview is a subject with its sessions, shown before purchase.
// Session metadata is visible to everyone; content stays behind the paywall.
type SubjectPreview struct {
	Subject  domain.Subject   `json:"subject"`
	Sessions []domain.Session `json:"sessions"`
}

// PackDetail is the preview screen payload for one pack.
type PackDetail struct {
	Pack     domain.Pack      `json:"pack"`
	Subjects []SubjectPreview `json:"subjects"`
}

// PackDetail loads the pack with its subjects and their sessions. Sessions
// for each subject are fetched concurrently.
func (a *App) PackDetail(ctx context.Context, packID string) (PackDetail, error) {
	pack, ok, err := a.store.GetPack(packID)
	if err != nil {
		return PackDetail{}, fmt.Errorf("fetch pack: %w", err)
	}
	if !ok {
		return PackDetail{}, ErrPackNotFound
	}
	subjects, err := a.store.ListSubjectsByPack(packID)
	if err != nil {
		return PackDetail{}, fmt.Errorf("list subjects: %w", err)
	}

	previews := make([]SubjectPreview, len(subjects))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, subject := range subjects {
		i, subject := i, subject
		g.Go(func() error {
			sessions, err := a.store.ListSessionsBySubject(subject.ID)
			if err != nil {
				return fmt.Errorf("list sessions for subject %s: %w", subject.ID, err)
			}
			previews[i] = SubjectPreview{Subject: subject, Sessions: sessions}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PackDetail{}, err
	}
	sort.SliceStable(previews, func(i, j int) bool {
		return previews[i].Subject.OrderIdx < previews[j].Subject.OrderIdx
	})
	return PackDetail{Pack: pack, Subjects: previews}, nil
}

// SessionContent returns the structured paper for a session. The caller's
// entitlement to the owning pack is re-checked here regardless of what any
// earlier screen decided.
func (a *App) SessionContent(user domain.User, sessionID string) (domain.SessionContent, error) {
	packID, ok, err := a.store.PackIDForSession(sessionID)
	if err != nil {
		return domain.SessionContent{}, fmt.Errorf("resolve session pack: %w", err)
	}
	if !ok {
		return domain.SessionContent{}, ErrSessionNotFound
	}
	if user.Role != domain.RoleAdmin {
		purchased, err := a.store.HasPurchase(user.ID, packID)
		if err != nil {
			return domain.SessionContent{}, fmt.Errorf("check purchase: %w", err)
		}
		if !purchased {
			return domain.SessionContent{}, ErrPaymentRequired
		}
	}
	content, ok, err := a.store.GetSessionContent(sessionID)
	if err != nil {
		return domain.SessionContent{}, fmt.Errorf("fetch content: %w", err)
	}
	if !ok {
		return domain.SessionContent{}, ErrContentNotReady
	}
	return content, nil
}

// SyllabusURL returns a pre-signed URL for the pack's syllabus document.
func (a *App) SyllabusURL(ctx context.Context, packID string) (string, error) {
	pack, ok, err := a.store.GetPack(packID)
	if err != nil {
		return "", fmt.Errorf("fetch pack: %w", err)
	}
	if !ok {
		return "", ErrPackNotFound
	}
	key := pack.SyllabusKey
	if strings.TrimSpace(key) == "" {
		key = storage.SyllabusKey(pack.ID)
	}
	url, err := a.objects.PresignGet(ctx, key, a.presignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign syllabus: %w", err)
	}
	return url, nil
}

// PackInput carries admin pack create/update fields.
type PackInput struct {
	Title    string
	Branch   string
	Subtitle string
	Price    int64
	Type     domain.PackType
}

// UpsertPack creates or updates a pack.
func (a *App) UpsertPack(id string, input PackInput) (domain.Pack, error) {
	if strings.TrimSpace(input.Title) == "" {
		return domain.Pack{}, ErrTitleRequired
	}
	if input.Price <= 0 {
		return domain.Pack{}, ErrInvalidPrice
	}
	if input.Type != domain.PackPYQ && input.Type != domain.PackModel {
		return domain.Pack{}, ErrInvalidPackType
	}
	now := time.Now().UTC()
	pack := domain.Pack{
		ID:        strings.TrimSpace(id),
		Title:     strings.TrimSpace(input.Title),
		Branch:    strings.TrimSpace(input.Branch),
		Subtitle:  strings.TrimSpace(input.Subtitle),
		Price:     input.Price,
		Type:      input.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pack.ID == "" {
		pack.ID = util.NewID()
	} else if existing, ok, err := a.store.GetPack(pack.ID); err != nil {
		return domain.Pack{}, fmt.Errorf("fetch pack: %w", err)
	} else if ok {
		pack.CreatedAt = existing.CreatedAt
		pack.SubjectsCount = existing.SubjectsCount
		pack.SyllabusKey = existing.SyllabusKey
	}
	if err := a.store.SavePack(pack); err != nil {
		return domain.Pack{}, fmt.Errorf("save pack: %w", err)
	}
	return pack, nil
}

// DeletePack removes a pack with its subjects and sessions.
func (a *App) DeletePack(id string) error {
	return a.store.DeletePack(id)
}

// UpsertSubject creates or updates a subject within a pack and refreshes
// the pack's subject count.
func (a *App) UpsertSubject(packID, subjectID, title string, orderIdx int) (domain.Subject, error) {
	pack, ok, err := a.store.GetPack(packID)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("fetch pack: %w", err)
	}
	if !ok {
		return domain.Subject{}, ErrPackNotFound
	}
	if strings.TrimSpace(title) == "" {
		return domain.Subject{}, ErrTitleRequired
	}
	subject := domain.Subject{
		ID:       strings.TrimSpace(subjectID),
		PackID:   pack.ID,
		Title:    strings.TrimSpace(title),
		OrderIdx: orderIdx,
	}
	isNew := subject.ID == ""
	if isNew {
		subject.ID = util.NewID()
	}
	if err := a.store.SaveSubject(subject); err != nil {
		return domain.Subject{}, fmt.Errorf("save subject: %w", err)
	}
	subjects, err := a.store.ListSubjectsByPack(pack.ID)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("list subjects: %w", err)
	}
	pack.SubjectsCount = len(subjects)
	pack.UpdatedAt = time.Now().UTC()
	if err := a.store.SavePack(pack); err != nil {
		return domain.Subject{}, fmt.Errorf("update pack: %w", err)
	}
	return subject, nil
}

// UpsertSession creates or updates a session under a subject.
func (a *App) UpsertSession(subjectID, sessionID, slug, title, summary string) (domain.Session, error) {
	if strings.TrimSpace(subjectID) == "" {
		return domain.Session{}, ErrSubjectRequired
	}
	if strings.TrimSpace(title) == "" {
		return domain.Session{}, ErrTitleRequired
	}
	session := domain.Session{
		ID:        strings.TrimSpace(sessionID),
		SubjectID: strings.TrimSpace(subjectID),
		Slug:      strings.TrimSpace(slug),
		Title:     strings.TrimSpace(title),
		Summary:   strings.TrimSpace(summary),
		CreatedAt: time.Now().UTC(),
	}
	if session.ID == "" {
		session.ID = util.NewID()
	}
	if session.Slug == "" {
		session.Slug = slugify(session.Title)
	}
	if err := a.store.SaveSession(session); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// PutSessionContent replaces the structured content of a session.
func (a *App) PutSessionContent(sessionID string, subject string, units []domain.ContentUnit) (domain.SessionContent, error) {
	if _, ok, err := a.store.GetSession(sessionID); err != nil {
		return domain.SessionContent{}, fmt.Errorf("fetch session: %w", err)
	} else if !ok {
		return domain.SessionContent{}, ErrSessionNotFound
	}
	content := domain.SessionContent{
		SessionID: sessionID,
		Subject:   strings.TrimSpace(subject),
		Units:     units,
		UpdatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveSessionContent(content); err != nil {
		return domain.SessionContent{}, fmt.Errorf("save content: %w", err)
	}
	return content, nil
}

func slugify(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	b.Grow(len(title))
	lastDash := false
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
