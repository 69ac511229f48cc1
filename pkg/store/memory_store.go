package store

import (
	"sort"
	"sync"
	"time"

	"exammate/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local
// development without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	byEmail   map[string]string // email -> user ID
	byPhone   map[string]string // phone -> user ID
	packs     map[string]domain.Pack
	packOrder []string
	subjects  map[string]domain.Subject
	sessions  map[string]domain.Session
	contents  map[string]domain.SessionContent // sessionID -> content
	purchases map[string]domain.Purchase      // userID+"/"+packID -> purchase
	profiles  map[string]domain.Profile
	uploads   map[string]domain.PaperUpload
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		byEmail:   make(map[string]string),
		byPhone:   make(map[string]string),
		packs:     make(map[string]domain.Pack),
		subjects:  make(map[string]domain.Subject),
		sessions:  make(map[string]domain.Session),
		contents:  make(map[string]domain.SessionContent),
		purchases: make(map[string]domain.Purchase),
		profiles:  make(map[string]domain.Profile),
		uploads:   make(map[string]domain.PaperUpload),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok {
		if prev.Email != "" {
			delete(m.byEmail, prev.Email)
		}
		if prev.Phone != "" {
			delete(m.byPhone, prev.Phone)
		}
	}
	m.users[u.ID] = u
	if u.Email != "" {
		m.byEmail[u.Email] = u.ID
	}
	if u.Phone != "" {
		m.byPhone[u.Phone] = u.ID
	}
	return nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPhone[phone]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byEmail[email]
	return ok, nil
}

func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) SavePack(p domain.Pack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.packs[p.ID]; !exists {
		m.packOrder = append(m.packOrder, p.ID)
	}
	m.packs[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPack(id string) (domain.Pack, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packs[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPacks(packType domain.PackType, branch string) ([]domain.Pack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Pack, 0, len(m.packOrder))
	for _, id := range m.packOrder {
		p, ok := m.packs[id]
		if !ok {
			continue
		}
		if packType != "" && p.Type != packType {
			continue
		}
		if branch != "" && p.Branch != branch {
			continue
		}
		res = append(res, p)
	}
	return res, nil
}

func (m *MemoryStore) DeletePack(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.packs, id)
	for _, sub := range m.subjects {
		if sub.PackID != id {
			continue
		}
		for _, sess := range m.sessions {
			if sess.SubjectID == sub.ID {
				delete(m.sessions, sess.ID)
				delete(m.contents, sess.ID)
			}
		}
		delete(m.subjects, sub.ID)
	}
	return nil
}

func (m *MemoryStore) SaveSubject(sub domain.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[sub.ID] = sub
	return nil
}

func (m *MemoryStore) ListSubjectsByPack(packID string) ([]domain.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Subject, 0)
	for _, sub := range m.subjects {
		if sub.PackID == packID {
			res = append(res, sub)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OrderIdx < res[j].OrderIdx })
	return res, nil
}

func (m *MemoryStore) SaveSession(sess domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemoryStore) ListSessionsByPack(packID string) ([]domain.Session, error) {
	subjects, err := m.ListSubjectsByPack(packID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Session, 0)
	for _, sub := range subjects {
		var inSubject []domain.Session
		for _, sess := range m.sessions {
			if sess.SubjectID == sub.ID {
				inSubject = append(inSubject, sess)
			}
		}
		sort.Slice(inSubject, func(i, j int) bool { return inSubject[i].CreatedAt.Before(inSubject[j].CreatedAt) })
		res = append(res, inSubject...)
	}
	return res, nil
}

func (m *MemoryStore) ListSessionsBySubject(subjectID string) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Session, 0)
	for _, sess := range m.sessions {
		if sess.SubjectID == subjectID {
			res = append(res, sess)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) GetSession(id string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

func (m *MemoryStore) PackIDForSession(sessionID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return "", false, nil
	}
	sub, ok := m.subjects[sess.SubjectID]
	if !ok {
		return "", false, nil
	}
	return sub.PackID, true, nil
}

func (m *MemoryStore) SaveSessionContent(c domain.SessionContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	m.contents[c.SessionID] = c
	return nil
}

func (m *MemoryStore) GetSessionContent(sessionID string) (domain.SessionContent, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[sessionID]
	return c, ok, nil
}

func (m *MemoryStore) SavePurchase(p domain.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.UserID + "/" + p.PackID
	if _, exists := m.purchases[key]; exists {
		return nil
	}
	m.purchases[key] = p
	return nil
}

func (m *MemoryStore) HasPurchase(userID, packID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.purchases[userID+"/"+packID]
	return ok, nil
}

func (m *MemoryStore) ListPurchasesWithPacks(userID string) ([]domain.Purchase, []domain.Pack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var purchases []domain.Purchase
	for _, p := range m.purchases {
		if p.UserID == userID {
			purchases = append(purchases, p)
		}
	}
	sort.Slice(purchases, func(i, j int) bool { return purchases[i].CreatedAt.After(purchases[j].CreatedAt) })
	var packs []domain.Pack
	filtered := purchases[:0]
	for _, p := range purchases {
		pack, ok := m.packs[p.PackID]
		if !ok {
			continue
		}
		filtered = append(filtered, p)
		packs = append(packs, pack)
	}
	return filtered, packs, nil
}

func (m *MemoryStore) SaveProfile(p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProfile(id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

func (m *MemoryStore) SavePaperUpload(u domain.PaperUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[u.ID] = u
	return nil
}

func (m *MemoryStore) GetPaperUpload(id string) (domain.PaperUpload, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[id]
	return u, ok, nil
}

func (m *MemoryStore) SetPaperUploadStatus(id string, status domain.IngestStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil
	}
	u.Status = status
	u.ErrorMessage = errMsg
	u.UpdatedAt = time.Now().UTC()
	m.uploads[id] = u
	return nil
}
