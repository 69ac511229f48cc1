package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"exammate/pkg/domain"
)

const migrateLockID int64 = 52715271

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent service startups don't race.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&PackModel{},
			&SubjectModel{},
			&SessionModel{},
			&SessionContentModel{},
			&PurchaseModel{},
			&ProfileModel{},
			&PaperUploadModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM session_models s
				WHERE NOT EXISTS (SELECT 1 FROM subject_models sub WHERE sub.id = s.subject_id);
				DELETE FROM subject_models sub
				WHERE NOT EXISTS (SELECT 1 FROM pack_models p WHERE p.id = sub.pack_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'subject_models'
					AND constraint_name = 'subject_models_pack_id_fkey'
				) THEN
					ALTER TABLE subject_models
					ADD CONSTRAINT subject_models_pack_id_fkey
					FOREIGN KEY (pack_id) REFERENCES pack_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'session_models'
					AND constraint_name = 'session_models_subject_id_fkey'
				) THEN
					ALTER TABLE session_models
					ADD CONSTRAINT session_models_subject_id_fkey
					FOREIGN KEY (subject_id) REFERENCES subject_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure catalogue foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"phone", "email", "password_hash", "role", "status", "updated_at"}),
	}).Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByPhone looks up a user by normalized phone number.
func (s *GormStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("phone = ?", phone).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SavePack stores or updates a pack.
func (s *GormStore) SavePack(p domain.Pack) error {
	model := packToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "branch", "subtitle", "price", "subjects_count", "type", "syllabus_key", "updated_at"}),
	}).Create(&model).Error
}

// GetPack retrieves a pack.
func (s *GormStore) GetPack(id string) (domain.Pack, bool, error) {
	var model PackModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Pack{}, false, nil
		}
		return domain.Pack{}, false, err
	}
	return packFromModel(model), true, nil
}

// ListPacks returns packs, optionally filtered by type and branch.
func (s *GormStore) ListPacks(packType domain.PackType, branch string) ([]domain.Pack, error) {
	var models []PackModel
	tx := s.db.Order("created_at ASC")
	if packType != "" {
		tx = tx.Where("type = ?", string(packType))
	}
	if branch != "" {
		tx = tx.Where("branch = ?", branch)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Pack, 0, len(models))
	for _, m := range models {
		res = append(res, packFromModel(m))
	}
	return res, nil
}

// DeletePack removes a pack; subjects and sessions cascade.
func (s *GormStore) DeletePack(id string) error {
	return s.db.Delete(&PackModel{}, "id = ?", id).Error
}

// SaveSubject stores or updates a subject.
func (s *GormStore) SaveSubject(sub domain.Subject) error {
	model := SubjectModel{ID: sub.ID, PackID: sub.PackID, Title: sub.Title, OrderIdx: sub.OrderIdx}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"pack_id", "title", "order_idx"}),
	}).Create(&model).Error
}

// ListSubjectsByPack returns a pack's subjects in display order.
func (s *GormStore) ListSubjectsByPack(packID string) ([]domain.Subject, error) {
	var models []SubjectModel
	if err := s.db.Where("pack_id = ?", packID).Order("order_idx ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Subject, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Subject{ID: m.ID, PackID: m.PackID, Title: m.Title, OrderIdx: m.OrderIdx})
	}
	return res, nil
}

// SaveSession stores or updates a session.
func (s *GormStore) SaveSession(sess domain.Session) error {
	model := sessionToModel(sess)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subject_id", "slug", "title", "summary"}),
	}).Create(&model).Error
}

// ListSessionsByPack returns all sessions under a pack's subjects.
func (s *GormStore) ListSessionsByPack(packID string) ([]domain.Session, error) {
	var models []SessionModel
	err := s.db.
		Joins("JOIN subject_models ON subject_models.id = session_models.subject_id").
		Where("subject_models.pack_id = ?", packID).
		Order("subject_models.order_idx ASC, session_models.created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Session, 0, len(models))
	for _, m := range models {
		res = append(res, sessionFromModel(m))
	}
	return res, nil
}

// ListSessionsBySubject returns a subject's sessions.
func (s *GormStore) ListSessionsBySubject(subjectID string) ([]domain.Session, error) {
	var models []SessionModel
	if err := s.db.Where("subject_id = ?", subjectID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Session, 0, len(models))
	for _, m := range models {
		res = append(res, sessionFromModel(m))
	}
	return res, nil
}

// GetSession retrieves a session.
func (s *GormStore) GetSession(id string) (domain.Session, bool, error) {
	var model SessionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// PackIDForSession resolves the owning pack for a session.
func (s *GormStore) PackIDForSession(sessionID string) (string, bool, error) {
	var packID string
	err := s.db.Model(&SessionModel{}).
		Select("subject_models.pack_id").
		Joins("JOIN subject_models ON subject_models.id = session_models.subject_id").
		Where("session_models.id = ?", sessionID).
		Scan(&packID).Error
	if err != nil {
		return "", false, err
	}
	if packID == "" {
		return "", false, nil
	}
	return packID, true, nil
}

// SaveSessionContent stores or replaces the structured paper for a session.
func (s *GormStore) SaveSessionContent(c domain.SessionContent) error {
	raw, err := json.Marshal(c.Units)
	if err != nil {
		return fmt.Errorf("marshal session content: %w", err)
	}
	model := SessionContentModel{
		SessionID: c.SessionID,
		Subject:   c.Subject,
		Content:   datatypes.JSON(raw),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subject", "content", "updated_at"}),
	}).Create(&model).Error
}

// GetSessionContent retrieves the structured paper for a session.
func (s *GormStore) GetSessionContent(sessionID string) (domain.SessionContent, bool, error) {
	var model SessionContentModel
	if err := s.db.First(&model, "session_id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.SessionContent{}, false, nil
		}
		return domain.SessionContent{}, false, err
	}
	var units []domain.ContentUnit
	if err := json.Unmarshal(model.Content, &units); err != nil {
		return domain.SessionContent{}, false, fmt.Errorf("unmarshal session content: %w", err)
	}
	return domain.SessionContent{
		SessionID: model.SessionID,
		Subject:   model.Subject,
		Units:     units,
		UpdatedAt: model.UpdatedAt,
	}, true, nil
}

// SavePurchase records a verified purchase. The (user, pack) unique index
// makes duplicate verification attempts converge on one row.
func (s *GormStore) SavePurchase(p domain.Purchase) error {
	model := PurchaseModel{
		ID:        p.ID,
		UserID:    p.UserID,
		PackID:    p.PackID,
		OrderID:   p.OrderID,
		PaymentID: p.PaymentID,
		Amount:    p.Amount,
		CreatedAt: p.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "pack_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// HasPurchase reports whether the entitlement row exists.
func (s *GormStore) HasPurchase(userID, packID string) (bool, error) {
	var count int64
	if err := s.db.Model(&PurchaseModel{}).Where("user_id = ? AND pack_id = ?", userID, packID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListPurchasesWithPacks returns a user's purchases joined with their packs.
func (s *GormStore) ListPurchasesWithPacks(userID string) ([]domain.Purchase, []domain.Pack, error) {
	var purchases []PurchaseModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&purchases).Error; err != nil {
		return nil, nil, err
	}
	if len(purchases) == 0 {
		return nil, nil, nil
	}
	packIDs := make([]string, 0, len(purchases))
	for _, p := range purchases {
		packIDs = append(packIDs, p.PackID)
	}
	var packModels []PackModel
	if err := s.db.Where("id IN ?", packIDs).Find(&packModels).Error; err != nil {
		return nil, nil, err
	}
	byID := make(map[string]domain.Pack, len(packModels))
	for _, m := range packModels {
		byID[m.ID] = packFromModel(m)
	}
	resPurchases := make([]domain.Purchase, 0, len(purchases))
	resPacks := make([]domain.Pack, 0, len(purchases))
	for _, m := range purchases {
		pack, ok := byID[m.PackID]
		if !ok {
			continue
		}
		resPurchases = append(resPurchases, domain.Purchase{
			ID:        m.ID,
			UserID:    m.UserID,
			PackID:    m.PackID,
			OrderID:   m.OrderID,
			PaymentID: m.PaymentID,
			Amount:    m.Amount,
			CreatedAt: m.CreatedAt,
		})
		resPacks = append(resPacks, pack)
	}
	return resPurchases, resPacks, nil
}

// SaveProfile stores or updates a profile row.
func (s *GormStore) SaveProfile(p domain.Profile) error {
	model := profileToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "course", "branch", "semester", "college", "coins", "phone", "updated_at"}),
	}).Create(&model).Error
}

// GetProfile retrieves a profile.
func (s *GormStore) GetProfile(id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// SavePaperUpload stores or updates an ingest upload record.
func (s *GormStore) SavePaperUpload(u domain.PaperUpload) error {
	model := PaperUploadModel{
		ID:               u.ID,
		SessionID:        u.SessionID,
		OriginalFilename: u.OriginalFilename,
		StorageKey:       u.StorageKey,
		Status:           string(u.Status),
		ErrorMessage:     u.ErrorMessage,
		SizeBytes:        u.SizeBytes,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "original_filename", "storage_key", "status", "error_message", "size_bytes", "updated_at"}),
	}).Create(&model).Error
}

// GetPaperUpload retrieves an ingest upload record.
func (s *GormStore) GetPaperUpload(id string) (domain.PaperUpload, bool, error) {
	var model PaperUploadModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.PaperUpload{}, false, nil
		}
		return domain.PaperUpload{}, false, err
	}
	return paperUploadFromModel(model), true, nil
}

// SetPaperUploadStatus updates ingest status/error.
func (s *GormStore) SetPaperUploadStatus(id string, status domain.IngestStatus, errMsg string) error {
	return s.db.Model(&PaperUploadModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Phone:        u.Phone,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Phone:        m.Phone,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		Status:       domain.UserStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func packToModel(p domain.Pack) PackModel {
	return PackModel{
		ID:            p.ID,
		Title:         p.Title,
		Branch:        p.Branch,
		Subtitle:      p.Subtitle,
		Price:         p.Price,
		SubjectsCount: p.SubjectsCount,
		Type:          string(p.Type),
		SyllabusKey:   p.SyllabusKey,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func packFromModel(m PackModel) domain.Pack {
	return domain.Pack{
		ID:            m.ID,
		Title:         m.Title,
		Branch:        m.Branch,
		Subtitle:      m.Subtitle,
		Price:         m.Price,
		SubjectsCount: m.SubjectsCount,
		Type:          domain.PackType(m.Type),
		SyllabusKey:   m.SyllabusKey,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func sessionToModel(s domain.Session) SessionModel {
	return SessionModel{
		ID:        s.ID,
		SubjectID: s.SubjectID,
		Slug:      s.Slug,
		Title:     s.Title,
		Summary:   s.Summary,
		CreatedAt: s.CreatedAt,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	return domain.Session{
		ID:        m.ID,
		SubjectID: m.SubjectID,
		Slug:      m.Slug,
		Title:     m.Title,
		Summary:   m.Summary,
		CreatedAt: m.CreatedAt,
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:        p.ID,
		Name:      p.Name,
		Course:    p.Course,
		Branch:    p.Branch,
		Semester:  p.Semester,
		College:   p.College,
		Coins:     p.Coins,
		Phone:     p.Phone,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:        m.ID,
		Name:      m.Name,
		Course:    m.Course,
		Branch:    m.Branch,
		Semester:  m.Semester,
		College:   m.College,
		Coins:     m.Coins,
		Phone:     m.Phone,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func paperUploadFromModel(m PaperUploadModel) domain.PaperUpload {
	return domain.PaperUpload{
		ID:               m.ID,
		SessionID:        m.SessionID,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		Status:           domain.IngestStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		SizeBytes:        m.SizeBytes,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
