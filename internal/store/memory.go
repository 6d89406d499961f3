package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CredentialStore, used in tests and for
// single-box development without Postgres configured. Grounded on the
// teacher's store/memory.go: a mutex-guarded map standing in for the real
// backend behind the same interface.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int64]*UserRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]*UserRecord)}
}

func (m *MemoryStore) Validate(ctx context.Context, userID int64, secret string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	if u.TokenSecret != secret {
		return false, nil
	}
	if u.Banned {
		return false, nil
	}
	if !u.TempBanUntil.IsZero() && time.Now().Before(u.TempBanUntil) {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, userID int64) (*UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]*UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*UserRecord, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) GetCredit(ctx context.Context, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return u.Credit, nil
}

func (m *MemoryStore) AdjustCredit(ctx context.Context, userID int64, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Credit += delta
	return nil
}

func (m *MemoryStore) IncrementContribution(ctx context.Context, userID int64, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Contribution += delta
	return nil
}

func (m *MemoryStore) IncrementUsage(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TotalUsage++
	u.DailyUsage++
	return nil
}

func (m *MemoryStore) ResetDailyUsage(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		u.DailyUsage = 0
	}
	return nil
}

func (m *MemoryStore) SetTempBan(ctx context.Context, userID int64, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TempBanUntil = until
	return nil
}

func (m *MemoryStore) SetBanned(ctx context.Context, userID int64, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Banned = banned
	return nil
}

func (m *MemoryStore) CreateOrRotateUser(ctx context.Context, userID int64, displayName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[userID]; ok {
		u.DisplayName = displayName
		return u.TokenSecret, nil
	}
	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	m.users[userID] = &UserRecord{
		TelegramID:  userID,
		DisplayName: displayName,
		TokenSecret: secret,
	}
	return secret, nil
}

func (m *MemoryStore) RotateToken(ctx context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	u.TokenSecret = secret
	return secret, nil
}
