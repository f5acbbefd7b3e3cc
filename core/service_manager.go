package core

import (
	"context"
	"fmt"
	"time"
)

// UpdateLastUsed records a confirmed delivery. The timestamp never moves
// backwards.
func (s *Service) UpdateLastUsed(ctx context.Context, repo RepoKey, at time.Time) (updated bool) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"repository": repo.String(), "server": repo.Server}
	defer func() {
		fields["updated"] = updated
		s.observeOperation(ctx, startedAt, "update_last_used", nil, fields)
	}()

	_, updated = s.registry.Update(repo, func(r *HookRecord) {
		at = at.UTC()
		if r.LastUsed == nil || r.LastUsed.Before(at) {
			r.LastUsed = &at
		}
		r.Status = HookStatusOK
	})
	return updated
}

// UpdateBranchRevisions merges pushed ref heads into the record.
func (s *Service) UpdateBranchRevisions(ctx context.Context, repo RepoKey, revisions map[string]string) (updated bool) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"repository": repo.String(), "server": repo.Server, "refs": len(revisions)}
	defer func() {
		fields["updated"] = updated
		s.observeOperation(ctx, startedAt, "update_branch_revisions", nil, fields)
	}()

	_, updated = s.registry.Update(repo, func(r *HookRecord) {
		if r.LastBranchRevisions == nil {
			r.LastBranchRevisions = make(map[string]string, len(revisions))
		}
		for ref, sha := range revisions {
			r.LastBranchRevisions[ref] = sha
		}
		r.Status = HookStatusOK
	})
	return updated
}

// RepositoryStateChanged compares the branch heads seen by the host with what
// the hook reported. A hook without history adopts the state as its baseline.
func (s *Service) RepositoryStateChanged(ctx context.Context, repo RepoKey, heads map[string]string) (record HookRecord, found bool) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"repository": repo.String(), "server": repo.Server}
	defer func() {
		fields["status"] = string(record.Status)
		s.observeOperation(ctx, startedAt, "repository_state_changed", nil, fields)
	}()

	return s.registry.Update(repo, func(r *HookRecord) {
		if r.Status != HookStatusOK {
			return
		}
		if r.LastBranchRevisions == nil {
			r.LastBranchRevisions = make(map[string]string, len(heads))
			for ref, sha := range heads {
				r.LastBranchRevisions[ref] = sha
			}
			return
		}
		for ref, sha := range heads {
			if recorded, ok := r.LastBranchRevisions[ref]; !ok || recorded != sha {
				r.Status = HookStatusOutdated
				return
			}
		}
	})
}

// HookForPubKey finds the hook whose callback ends with pubKey.
func (s *Service) HookForPubKey(pubKey string) (HookEntry, bool) {
	return s.registry.FindByPubKey(pubKey)
}

func (s *Service) GetHook(repo RepoKey) (HookRecord, bool) {
	return s.registry.Get(repo)
}

func (s *Service) ListHooks() []HookEntry {
	return s.registry.ListAll()
}

func (s *Service) ListIncorrectHooks() []HookEntry {
	return s.registry.ListIncorrect()
}

// IncorrectReason returns the cached failure reason of a hook.
func (s *Service) IncorrectReason(record HookRecord) (string, bool) {
	key, err := record.Key()
	if err != nil {
		return "", false
	}
	return s.reasons.Reason(key)
}

// ForgetHook drops the record of repo together with the auth data its
// callback points at.
func (s *Service) ForgetHook(ctx context.Context, repo RepoKey) bool {
	record, ok := s.registry.Get(repo)
	if !ok {
		return false
	}
	s.registry.Delete(repo)
	if pubKey, found := PubKeyFromPath(record.CallbackURL, s.config.CallbackPath); found {
		s.authData.Delete(pubKey)
	}
	if key, err := record.Key(); err == nil {
		s.reasons.Forget(key)
	}
	s.logInfo(ctx, "hook forgotten", map[string]any{"repository": repo.String(), "hook_id": record.ID})
	return true
}

// RemoveAuthDataForUser sweeps the auth data of a deleted user.
func (s *Service) RemoveAuthDataForUser(ctx context.Context, userID string) int {
	removed := s.authData.RemoveAllForUser(userID)
	if removed > 0 {
		s.logInfo(ctx, "auth data removed for user", map[string]any{"user_id": userID, "removed": removed})
	}
	return removed
}

func (s *Service) FindAuthData(pubKey string) (AuthData, bool) {
	return s.authData.Find(pubKey)
}

// StoreAuthData adopts auth data found outside the in-memory store, e.g. a
// hook created by another instance sharing the database.
func (s *Service) StoreAuthData(data AuthData) {
	s.authData.Store(data)
}

// resolveCredentials finds the connection, user and usable tokens behind auth
// data. A non-empty reason explains why none could be found.
func (s *Service) resolveCredentials(ctx context.Context, authData AuthData) (Connection, User, []Token, string) {
	if s.connections == nil {
		return Connection{}, User{}, nil, "OAuth connection used to install webhook is unavailable"
	}
	connection, found, err := s.connections.FindConnection(ctx, authData.Connection)
	if err != nil || !found {
		return Connection{}, User{}, nil, "OAuth connection used to install webhook is unavailable"
	}
	if s.users == nil {
		return Connection{}, User{}, nil, fmt.Sprintf("User '%s' which created webhook no longer exists", authData.UserID)
	}
	user, found, err := s.users.FindUser(ctx, authData.UserID)
	if err != nil || !found {
		return Connection{}, User{}, nil, fmt.Sprintf("User '%s' which created webhook no longer exists", authData.UserID)
	}
	tokens, err := s.Tokens().SuitableTokens(ctx, connection, user.ID, s.now())
	if err != nil || len(tokens) == 0 {
		return Connection{}, User{}, nil, "No OAuth tokens found to access repository"
	}
	return connection, user, tokens, ""
}
