package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "oauth_state_token:"

	// DefaultStateTTL bounds how long a user has to finish the provider flow.
	DefaultStateTTL = 600 * time.Second
)

// StateInfo is what a state token stands for: where the provider sends the
// user back and, when attaching, which user started the flow.
type StateInfo struct {
	RedirectURL string `json:"redirect_url"`
	UserID      string `json:"user_id,omitempty"`
}

// StateStore keeps one-shot state tokens in Redis.
type StateStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStateStore returns a StateStore; ttl <= 0 means DefaultStateTTL.
func NewStateStore(rdb redis.UniversalClient, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{rdb: rdb, ttl: ttl}
}

func stateKey(token string) string { return stateKeyPrefix + token }

// Create stores info under a fresh token. An existing key is never
// overwritten.
func (s *StateStore) Create(ctx context.Context, info StateInfo) (string, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, stateKey(token), data, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	if !ok {
		return "", ErrStateTokenCollision
	}
	return token, nil
}

// Pop returns the info stored under token and deletes it, so each token is
// usable once.
func (s *StateStore) Pop(ctx context.Context, token string) (StateInfo, error) {
	if token == "" {
		return StateInfo{}, ErrStateTokenIncorrect
	}
	data, err := s.rdb.GetDel(ctx, stateKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StateInfo{}, ErrStateTokenIncorrect
	}
	if err != nil {
		return StateInfo{}, fmt.Errorf("load state: %w", err)
	}
	var info StateInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return StateInfo{}, ErrStateTokenIncorrect
	}
	return info, nil
}
