package store

import (
	"time"

	"exammate/pkg/domain"
)

// Store defines persistence operations for identities, the catalogue,
// purchases, and profiles.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByPhone(phone string) (domain.User, bool, error)
	HasUserEmail(email string) (bool, error)
	UserCount() (int, error)

	// packs
	SavePack(domain.Pack) error
	GetPack(id string) (domain.Pack, bool, error)
	ListPacks(packType domain.PackType, branch string) ([]domain.Pack, error)
	DeletePack(id string) error

	// subjects & sessions
	SaveSubject(domain.Subject) error
	ListSubjectsByPack(packID string) ([]domain.Subject, error)
	SaveSession(domain.Session) error
	ListSessionsByPack(packID string) ([]domain.Session, error)
	ListSessionsBySubject(subjectID string) ([]domain.Session, error)
	GetSession(id string) (domain.Session, bool, error)
	// PackIDForSession resolves the pack that owns a session, for the
	// content-fetch entitlement re-check.
	PackIDForSession(sessionID string) (string, bool, error)

	// session content
	SaveSessionContent(domain.SessionContent) error
	GetSessionContent(sessionID string) (domain.SessionContent, bool, error)

	// purchases
	SavePurchase(domain.Purchase) error
	HasPurchase(userID, packID string) (bool, error)
	ListPurchasesWithPacks(userID string) ([]domain.Purchase, []domain.Pack, error)

	// profiles
	SaveProfile(domain.Profile) error
	GetProfile(id string) (domain.Profile, bool, error)

	// paper uploads (ingest)
	SavePaperUpload(domain.PaperUpload) error
	GetPaperUpload(id string) (domain.PaperUpload, bool, error)
	SetPaperUploadStatus(id string, status domain.IngestStatus, errMsg string) error
}

// SessionStore persists access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// UserRefreshTokenRevoker is an optional capability that revokes all refresh
// tokens for a user.
type UserRefreshTokenRevoker interface {
	RevokeUserRefreshTokens(userID string) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
