package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dyjung/logindemo/auth/internal/entity"
	"github.com/google/uuid"
)

// Memory is an in-process Store for local runs and tests. Transactions are
// serialized and work on a copy that replaces the live data on commit.
type Memory struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	accounts    map[string]entity.Account
	credentials map[string]entity.Credential
	refresh     map[string]entity.RefreshToken
	resets      map[string]entity.PasswordResetToken
}

func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		data: &memData{
			accounts:    make(map[string]entity.Account),
			credentials: make(map[string]entity.Credential),
			refresh:     make(map[string]entity.RefreshToken),
			resets:      make(map[string]entity.PasswordResetToken),
		},
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		accounts:    make(map[string]entity.Account, len(d.accounts)),
		credentials: make(map[string]entity.Credential, len(d.credentials)),
		refresh:     make(map[string]entity.RefreshToken, len(d.refresh)),
		resets:      make(map[string]entity.PasswordResetToken, len(d.resets)),
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.credentials {
		c.credentials[k] = v
	}
	for k, v := range d.refresh {
		c.refresh[k] = v
	}
	for k, v := range d.resets {
		c.resets[k] = v
	}
	return c
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&Memory{mu: m.mu, data: snapshot, inTx: true}); err != nil {
		return err
	}
	*m.data = *snapshot
	return nil
}

func (m *Memory) CreateAccount(ctx context.Context, account *entity.Account, credential *entity.Credential) error {
	defer m.lock()()

	if account.Email != nil {
		for _, a := range m.data.accounts {
			if a.Email != nil && *a.Email == *account.Email {
				return ErrEmailTaken
			}
		}
	}
	credential.AccountID = account.ID
	if err := m.checkCredential(credential); err != nil {
		return err
	}

	now := time.Now()
	if account.ID == "" {
		account.ID = uuid.NewString()
		credential.AccountID = account.ID
	}
	if account.Status == "" {
		account.Status = entity.StatusActive
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	if credential.ID == "" {
		credential.ID = uuid.NewString()
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = account.CreatedAt
		credential.UpdatedAt = account.CreatedAt
	}

	stored := *account
	stored.Credentials = nil
	m.data.accounts[stored.ID] = stored
	m.data.credentials[credential.ID] = *credential
	return nil
}

func (m *Memory) checkCredential(c *entity.Credential) error {
	for _, existing := range m.data.credentials {
		if existing.AccountID == c.AccountID && existing.Method == c.Method {
			return ErrCredentialTaken
		}
		if c.ProviderID != nil && existing.ProviderID != nil &&
			existing.Method == c.Method && *existing.ProviderID == *c.ProviderID {
			return ErrCredentialTaken
		}
	}
	return nil
}

func (m *Memory) GetAccountByID(ctx context.Context, id string) (entity.Account, error) {
	defer m.lock()()

	a, ok := m.data.accounts[id]
	if !ok {
		return entity.Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) GetAccountByEmail(ctx context.Context, email string) (entity.Account, error) {
	defer m.lock()()

	for _, a := range m.data.accounts {
		if a.Email != nil && *a.Email == email {
			return a, nil
		}
	}
	return entity.Account{}, ErrAccountNotFound
}

func (m *Memory) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	defer m.lock()()

	a, ok := m.data.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.LastLogin = &at
	a.UpdatedAt = at
	m.data.accounts[accountID] = a
	return nil
}

// SetStatus is a fixture hook; account status has no write path in the service.
func (m *Memory) SetStatus(accountID string, status entity.AccountStatus) error {
	defer m.lock()()

	a, ok := m.data.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.Status = status
	m.data.accounts[accountID] = a
	return nil
}

func (m *Memory) GetCredential(ctx context.Context, accountID string, method entity.Method) (entity.Credential, error) {
	defer m.lock()()

	for _, c := range m.data.credentials {
		if c.AccountID == accountID && c.Method == method {
			return c, nil
		}
	}
	return entity.Credential{}, ErrCredentialNotFound
}

func (m *Memory) GetCredentialByProvider(ctx context.Context, method entity.Method, providerID string) (entity.Credential, error) {
	defer m.lock()()

	for _, c := range m.data.credentials {
		if c.Method == method && c.ProviderID != nil && *c.ProviderID == providerID {
			return c, nil
		}
	}
	return entity.Credential{}, ErrCredentialNotFound
}

func (m *Memory) ListCredentials(ctx context.Context, accountID string) ([]entity.Credential, error) {
	defer m.lock()()

	var out []entity.Credential
	for _, c := range m.data.credentials {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetPasswordHash(ctx context.Context, accountID, hash string, at time.Time) error {
	defer m.lock()()

	if _, ok := m.data.accounts[accountID]; !ok {
		return ErrAccountNotFound
	}
	for id, c := range m.data.credentials {
		if c.AccountID == accountID && c.Method == entity.MethodEmail {
			c.PasswordHash = &hash
			c.UpdatedAt = at
			m.data.credentials[id] = c
			return nil
		}
	}

	c := entity.Credential{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Method:       entity.MethodEmail,
		PasswordHash: &hash,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	m.data.credentials[c.ID] = c
	return nil
}

func (m *Memory) CreateRefreshToken(ctx context.Context, token *entity.RefreshToken) error {
	defer m.lock()()

	for _, t := range m.data.refresh {
		if t.TokenHash == token.TokenHash {
			return ErrDuplicateToken
		}
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	stored := *token
	stored.Account = entity.Account{}
	m.data.refresh[stored.ID] = stored
	return nil
}

func (m *Memory) GetRefreshTokenByHash(ctx context.Context, hash string) (entity.RefreshToken, error) {
	defer m.lock()()
	return m.refreshByHash(hash)
}

// LockRefreshTokenByHash is a plain read: holding the store mutex for the
// whole transaction already excludes other writers.
func (m *Memory) LockRefreshTokenByHash(ctx context.Context, hash string) (entity.RefreshToken, error) {
	defer m.lock()()
	return m.refreshByHash(hash)
}

func (m *Memory) refreshByHash(hash string) (entity.RefreshToken, error) {
	for _, t := range m.data.refresh {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return entity.RefreshToken{}, ErrTokenNotFound
}

func (m *Memory) MarkRefreshTokenRotated(ctx context.Context, id string, at time.Time) error {
	defer m.lock()()

	t, ok := m.data.refresh[id]
	if !ok || t.IsRevoked {
		return ErrStaleRow
	}
	reason := entity.ReasonRotated
	t.IsRevoked = true
	t.RevokedAt = &at
	t.RevokedReason = &reason
	t.UsageCount++
	t.LastUsedAt = &at
	m.data.refresh[id] = t
	return nil
}

func (m *Memory) RevokeRefreshTokenByHash(ctx context.Context, hash string, at time.Time, reason string) (int64, error) {
	defer m.lock()()

	return m.revokeWhere(at, reason, func(t entity.RefreshToken) bool { return t.TokenHash == hash }), nil
}

func (m *Memory) RevokeAccountRefreshTokens(ctx context.Context, accountID string, at time.Time, reason string) (int64, error) {
	defer m.lock()()

	return m.revokeWhere(at, reason, func(t entity.RefreshToken) bool { return t.AccountID == accountID }), nil
}

func (m *Memory) revokeWhere(at time.Time, reason string, match func(entity.RefreshToken) bool) int64 {
	var n int64
	for id, t := range m.data.refresh {
		if t.IsRevoked || !match(t) {
			continue
		}
		t.IsRevoked = true
		t.RevokedAt = &at
		t.RevokedReason = &reason
		m.data.refresh[id] = t
		n++
	}
	return n
}

func (m *Memory) CreatePasswordResetToken(ctx context.Context, token *entity.PasswordResetToken) error {
	defer m.lock()()

	for _, t := range m.data.resets {
		if t.TokenHash == token.TokenHash {
			return ErrDuplicateToken
		}
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	stored := *token
	stored.Account = entity.Account{}
	m.data.resets[stored.ID] = stored
	return nil
}

func (m *Memory) GetPasswordResetTokenByHash(ctx context.Context, hash string) (entity.PasswordResetToken, error) {
	defer m.lock()()
	return m.resetByHash(hash)
}

func (m *Memory) LockPasswordResetTokenByHash(ctx context.Context, hash string) (entity.PasswordResetToken, error) {
	defer m.lock()()
	return m.resetByHash(hash)
}

func (m *Memory) resetByHash(hash string) (entity.PasswordResetToken, error) {
	for _, t := range m.data.resets {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return entity.PasswordResetToken{}, ErrTokenNotFound
}

func (m *Memory) InvalidatePasswordResetTokens(ctx context.Context, accountID string, now time.Time) (int64, error) {
	defer m.lock()()

	var n int64
	for id, t := range m.data.resets {
		if t.AccountID != accountID || !t.Redeemable(now) {
			continue
		}
		t.IsUsed = true
		t.UsedAt = &now
		m.data.resets[id] = t
		n++
	}
	return n, nil
}

func (m *Memory) MarkPasswordResetTokenUsed(ctx context.Context, id string, at time.Time) error {
	defer m.lock()()

	t, ok := m.data.resets[id]
	if !ok || t.IsUsed {
		return ErrStaleRow
	}
	t.IsUsed = true
	t.UsedAt = &at
	m.data.resets[id] = t
	return nil
}

// RefreshTokens returns every stored refresh token of the account.
func (m *Memory) RefreshTokens(accountID string) []entity.RefreshToken {
	defer m.lock()()

	var out []entity.RefreshToken
	for _, t := range m.data.refresh {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ResetTokens returns every stored password-reset token of the account.
func (m *Memory) ResetTokens(accountID string) []entity.PasswordResetToken {
	defer m.lock()()

	var out []entity.PasswordResetToken
	for _, t := range m.data.resets {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
