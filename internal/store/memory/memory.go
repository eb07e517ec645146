// Package memory keeps users, login history, provider accounts and policies
// in process memory. It backs tests and local runs without PostgreSQL.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gatekeep.org/internal/abac"
	"gatekeep.org/internal/auth"
)

// Store implements auth.Store and the admin policy store with in-process
// concurrency safety.
type Store struct {
	mu       sync.RWMutex
	users    map[string]auth.User
	history  []auth.LoginHistory
	accounts []auth.OAuthAccount
	policies map[uuid.UUID]abac.Policy
	order    []uuid.UUID
}

var _ auth.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]auth.User),
		policies: make(map[uuid.UUID]abac.Policy),
	}
}

func (s *Store) Users(context.Context) auth.UserStore                { return users{s} }
func (s *Store) LoginHistory(context.Context) auth.LoginHistoryStore { return history{s} }
func (s *Store) OAuthAccounts(context.Context) auth.OAuthAccountStore {
	return accounts{s}
}

type users struct{ s *Store }

func (u users) Create(_ context.Context, in *auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[in.ID]; ok {
		return auth.ErrAlreadyExists
	}
	for _, existing := range u.s.users {
		if existing.Email == in.Email {
			return auth.ErrAlreadyExists
		}
	}
	u.s.users[in.ID] = *in
	return nil
}

func (u users) Find(_ context.Context, id string) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	found, ok := u.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &found, nil
}

func (u users) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, found := range u.s.users {
		if found.Email == email {
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u users) UpdatePassword(_ context.Context, userID, hash string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	found, ok := u.s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	found.PasswordHash = hash
	u.s.users[userID] = found
	return nil
}

func (u users) UpdateEmail(_ context.Context, userID, email string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	found, ok := u.s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	for id, other := range u.s.users {
		if id != userID && other.Email == email {
			return auth.ErrAlreadyExists
		}
	}
	found.Email = email
	u.s.users[userID] = found
	return nil
}

func (u users) List(_ context.Context, offset, limit int) ([]*auth.User, error) {
	u.s.mu.RLock()
	all := make([]*auth.User, 0, len(u.s.users))
	for _, found := range u.s.users {
		found := found
		all = append(all, &found)
	}
	u.s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return window(all, offset, limit), nil
}

func (u users) Count(context.Context) (int, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return len(u.s.users), nil
}

// Put stores u as is. Tests use it to seed superusers and disabled accounts.
func (s *Store) Put(u auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

type history struct{ s *Store }

func (h history) Insert(_ context.Context, row *auth.LoginHistory) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.history = append(h.s.history, *row)
	return nil
}

// forUser returns indexes of the user's rows, newest first.
func (h history) forUser(userID string) []int {
	var idx []int
	for i, row := range h.s.history {
		if row.UserID == userID {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := h.s.history[idx[a]], h.s.history[idx[b]]
		if !ra.CreatedAt.Equal(rb.CreatedAt) {
			return ra.CreatedAt.After(rb.CreatedAt)
		}
		return idx[a] > idx[b]
	})
	return idx
}

func (h history) List(_ context.Context, userID string, offset, limit int) ([]*auth.LoginHistory, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var out []*auth.LoginHistory
	for _, i := range window(h.forUser(userID), offset, limit) {
		row := h.s.history[i]
		out = append(out, &row)
	}
	return out, nil
}

func (h history) Count(_ context.Context, userID string) (int, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return len(h.forUser(userID)), nil
}

func (h history) SetLatestActive(_ context.Context, userID, userAgent string, active bool) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for _, i := range h.forUser(userID) {
		if h.s.history[i].UserAgent == userAgent {
			h.s.history[i].IsActive = active
			return nil
		}
	}
	return auth.ErrNotFound
}

func (h history) DeactivateAll(_ context.Context, userID string) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for i := range h.s.history {
		if h.s.history[i].UserID == userID {
			h.s.history[i].IsActive = false
		}
	}
	return nil
}

type accounts struct{ s *Store }

func (a accounts) Attach(_ context.Context, acc auth.OAuthAccount) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, existing := range a.s.accounts {
		if existing.Provider != acc.Provider {
			continue
		}
		if existing.AccountID == acc.AccountID || existing.UserID == acc.UserID {
			return auth.ErrAlreadyExists
		}
	}
	a.s.accounts = append(a.s.accounts, acc)
	return nil
}

func (a accounts) Detach(_ context.Context, userID string, provider auth.Provider) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for i, existing := range a.s.accounts {
		if existing.UserID == userID && existing.Provider == provider {
			a.s.accounts = append(a.s.accounts[:i], a.s.accounts[i+1:]...)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (a accounts) FindUserID(_ context.Context, provider auth.Provider, accountID string) (string, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	for _, existing := range a.s.accounts {
		if existing.Provider == provider && existing.AccountID == accountID {
			return existing.UserID, nil
		}
	}
	return "", auth.ErrNotFound
}

func (a accounts) ListByUser(_ context.Context, userID string) ([]auth.OAuthAccount, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []auth.OAuthAccount
	for _, existing := range a.s.accounts {
		if existing.UserID == userID {
			out = append(out, existing)
		}
	}
	return out, nil
}

// Policies

func (s *Store) descriptionTaken(desc string, except uuid.UUID) bool {
	for id, p := range s.policies {
		if id != except && p.Description == desc {
			return true
		}
	}
	return false
}

func (s *Store) CreatePolicy(_ context.Context, p *abac.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := s.policies[p.ID]; ok || s.descriptionTaken(p.Description, uuid.Nil) {
		return auth.ErrAlreadyExists
	}
	s.policies[p.ID] = *p
	s.order = append(s.order, p.ID)
	return nil
}

func (s *Store) UpdatePolicy(_ context.Context, p *abac.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return auth.ErrNotFound
	}
	if s.descriptionTaken(p.Description, p.ID) {
		return auth.ErrAlreadyExists
	}
	s.policies[p.ID] = *p
	return nil
}

func (s *Store) DeletePolicy(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.policies, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) GetPolicy(_ context.Context, id uuid.UUID) (*abac.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListPolicies(_ context.Context, offset, limit int) ([]abac.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []abac.Policy
	for _, id := range window(s.order, offset, limit) {
		out = append(out, s.policies[id])
	}
	return out, nil
}

func (s *Store) CountPolicies(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies), nil
}

// Policies streams a snapshot of every policy in insertion order.
func (s *Store) Policies(ctx context.Context) iter.Seq2[abac.Policy, error] {
	s.mu.RLock()
	snapshot := make([]abac.Policy, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.policies[id])
	}
	s.mu.RUnlock()
	return abac.PolicySlice(snapshot).Policies(ctx)
}

func window[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
