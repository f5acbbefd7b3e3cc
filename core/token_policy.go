package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

type HookAccessLevel int

const (
	HookAccessNone HookAccessLevel = iota
	HookAccessRead
	HookAccessWrite
	HookAccessAdmin
)

func (l HookAccessLevel) String() string {
	switch l {
	case HookAccessRead:
		return "READ"
	case HookAccessWrite:
		return "WRITE"
	case HookAccessAdmin:
		return "ADMIN"
	default:
		return "NO_ACCESS"
	}
}

type RepoAccess string

const (
	RepoAccessPublicOnly   RepoAccess = "public_only"
	RepoAccessAll          RepoAccess = "all"
	RepoAccessNotSpecified RepoAccess = "not_specified"
)

type TokenAccess struct {
	Hook HookAccessLevel
	Repo RepoAccess
}

// scopeAccess is checked in order; the first granted scope wins.
var scopeAccess = []struct {
	scope  string
	access TokenAccess
}{
	{scope: "public_repo", access: TokenAccess{Hook: HookAccessAdmin, Repo: RepoAccessPublicOnly}},
	{scope: "repo", access: TokenAccess{Hook: HookAccessAdmin, Repo: RepoAccessAll}},
	{scope: "admin:repo_hook", access: TokenAccess{Hook: HookAccessAdmin, Repo: RepoAccessAll}},
	{scope: "write:repo_hook", access: TokenAccess{Hook: HookAccessWrite, Repo: RepoAccessAll}},
	{scope: "read:repo_hook", access: TokenAccess{Hook: HookAccessRead, Repo: RepoAccessAll}},
}

// ParseScopes splits an OAuth scope string on commas and spaces.
func ParseScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

func AccessForScope(raw string) TokenAccess {
	granted := map[string]struct{}{}
	for _, scope := range ParseScopes(raw) {
		granted[scope] = struct{}{}
	}
	for _, candidate := range scopeAccess {
		if _, ok := granted[candidate.scope]; ok {
			return candidate.access
		}
	}
	return TokenAccess{Hook: HookAccessNone, Repo: RepoAccessNotSpecified}
}

// IncorrectTokenSet remembers tokens that failed with a scope mismatch for the
// life of the process.
type IncorrectTokenSet struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewIncorrectTokenSet() *IncorrectTokenSet {
	return &IncorrectTokenSet{tokens: map[string]struct{}{}}
}

func (s *IncorrectTokenSet) MarkIncorrect(token Token) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = map[string]struct{}{}
	}
	s.tokens[token.identity()] = struct{}{}
}

func (s *IncorrectTokenSet) IsIncorrect(token Token) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token.identity()]
	return ok
}

type TokenPolicy struct {
	Store     TokenStore
	Incorrect *IncorrectTokenSet
}

func (p TokenPolicy) Suitable(token Token, now time.Time) bool {
	if strings.TrimSpace(token.AccessToken) == "" || token.Expired(now) {
		return false
	}
	if AccessForScope(token.Scope).Hook < HookAccessWrite {
		return false
	}
	return !p.Incorrect.IsIncorrect(token)
}

// SuitableTokens lists the tokens of a user for a connection that may manage
// hooks, preserving store order.
func (p TokenPolicy) SuitableTokens(ctx context.Context, connection Connection, userID string, now time.Time) ([]Token, error) {
	if p.Store == nil {
		return nil, ErrTokenStoreRequired
	}
	tokens, err := p.Store.ListTokens(ctx, connection.ID, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Token, 0, len(tokens))
	for _, token := range tokens {
		if p.Suitable(token, now) {
			out = append(out, token)
		}
	}
	return out, nil
}

// FirstSuitableToken returns the first usable token of the user.
func (p TokenPolicy) FirstSuitableToken(ctx context.Context, connection Connection, userID string, now time.Time) (Token, error) {
	tokens, err := p.SuitableTokens(ctx, connection, userID, now)
	if err != nil {
		return Token{}, err
	}
	if len(tokens) == 0 {
		return Token{}, ErrNoSuitableToken
	}
	return tokens[0], nil
}
