package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Phone        string `gorm:"index"`
	Email        string `gorm:"index"`
	PasswordHash string
	Role         string `gorm:"not null"`
	Status       string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type PackModel struct {
	ID            string `gorm:"primaryKey"`
	Title         string `gorm:"not null"`
	Branch        string `gorm:"not null;index"`
	Subtitle      string
	Price         int64  `gorm:"not null"`
	SubjectsCount int    `gorm:"not null"`
	Type          string `gorm:"not null;index"`
	SyllabusKey   string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type SubjectModel struct {
	ID       string `gorm:"primaryKey"`
	PackID   string `gorm:"not null;index"`
	Title    string `gorm:"not null"`
	OrderIdx int    `gorm:"not null"`
}

type SessionModel struct {
	ID        string `gorm:"primaryKey"`
	SubjectID string `gorm:"not null;index"`
	Slug      string `gorm:"index"`
	Title     string `gorm:"not null"`
	Summary   string
	CreatedAt time.Time `gorm:"not null"`
}

type SessionContentModel struct {
	SessionID string         `gorm:"primaryKey"`
	Subject   string         `gorm:"not null"`
	Content   datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type PurchaseModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;uniqueIndex:idx_purchase_user_pack"`
	PackID    string `gorm:"not null;uniqueIndex:idx_purchase_user_pack"`
	OrderID   string `gorm:"not null"`
	PaymentID string `gorm:"not null;index"`
	Amount    int64  `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type ProfileModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Course    string
	Branch    string
	Semester  string
	College   string
	Coins     int
	Phone     string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type PaperUploadModel struct {
	ID               string `gorm:"primaryKey"`
	SessionID        string `gorm:"not null;index"`
	OriginalFilename string `gorm:"not null"`
	StorageKey       string
	Status           string `gorm:"not null"`
	ErrorMessage     string
	SizeBytes        int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}
