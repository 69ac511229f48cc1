package domain

import "time"

type PackType string

const (
	PackPYQ   PackType = "pyq"
	PackModel PackType = "model"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// User is the identity record. Either Phone or Email is set, depending on
// how the account was created.
type User struct {
	ID           string     `json:"id"`
	Phone        string     `json:"phone,omitempty"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Pack is a purchasable bundle of subject papers for a branch/semester.
// Price is in whole rupees; gateway orders are created in paise.
type Pack struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Branch        string    `json:"branch"`
	Subtitle      string    `json:"subtitle"`
	Price         int64     `json:"price"`
	SubjectsCount int       `json:"subjectsCount"`
	Type          PackType  `json:"type"`
	SyllabusKey   string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Subject groups sessions inside a pack, ordered by OrderIdx.
type Subject struct {
	ID       string `json:"id"`
	PackID   string `json:"packId"`
	Title    string `json:"title"`
	OrderIdx int    `json:"orderIdx"`
}

// Session is one paper/content unit belonging to a subject.
type Session struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subjectId"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionContent is the structured paper for one session. The client renders
// this tree as-is; it is never validated or mutated client-side.
type SessionContent struct {
	SessionID string        `json:"sessionId"`
	Subject   string        `json:"subject"`
	Units     []ContentUnit `json:"units"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type ContentUnit struct {
	Title   string          `json:"title"`
	Options []ContentOption `json:"options"`
}

type ContentOption struct {
	Label     string     `json:"label"`
	Questions []Question `json:"questions"`
}

type Question struct {
	Number       string        `json:"number"`
	Text         string        `json:"text"`
	Marks        int           `json:"marks,omitempty"`
	RepeatedIn   []string      `json:"repeatedIn,omitempty"`
	YoutubeLinks []string      `json:"youtubeLinks,omitempty"`
	Images       []string      `json:"images,omitempty"`
	SubQuestions []SubQuestion `json:"subQuestions,omitempty"`
}

type SubQuestion struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Purchase records entitlement. Existence of a row for (UserID, PackID) is
// necessary and sufficient for content access; there is no expiry.
type Purchase struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PackID    string    `json:"packId"`
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId"`
	Amount    int64     `json:"amount"` // paise actually charged
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the user-editable shadow of the identity record, created
// lazily on first profile view.
type Profile struct {
	ID        string    `json:"id"` // equals the user ID
	Name      string    `json:"name"`
	Course    string    `json:"course"`
	Branch    string    `json:"branch"`
	Semester  string    `json:"semester"`
	College   string    `json:"college"`
	Coins     int       `json:"coins"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentOrder is the gateway order handed to the payment SDK. The amount is
// bound server-side; clients never supply it.
type PaymentOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // paise
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// PurchaseEvent is published after a verified purchase.
type PurchaseEvent struct {
	PurchaseID string    `json:"purchaseId"`
	UserID     string    `json:"userId"`
	PackID     string    `json:"packId"`
	PaymentID  string    `json:"paymentId"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurredAt"`
}

type IngestStatus string

const (
	IngestQueued     IngestStatus = "queued"
	IngestProcessing IngestStatus = "processing"
	IngestReady      IngestStatus = "ready"
	IngestFailed     IngestStatus = "failed"
)

// PaperUpload tracks an uploaded raw paper awaiting content extraction.
type PaperUpload struct {
	ID               string       `json:"id"`
	SessionID        string       `json:"sessionId"`
	OriginalFilename string       `json:"originalFilename"`
	StorageKey       string       `json:"-"`
	Status           IngestStatus `json:"status"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	SizeBytes        int64        `json:"sizeBytes"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}
