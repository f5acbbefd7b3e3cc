package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAccessForScope(t *testing.T) {
	cases := []struct {
		scope string
		hook  HookAccessLevel
		repo  RepoAccess
	}{
		{"public_repo", HookAccessAdmin, RepoAccessPublicOnly},
		{"repo,user", HookAccessAdmin, RepoAccessAll},
		{"user admin:repo_hook", HookAccessAdmin, RepoAccessAll},
		{"write:repo_hook", HookAccessWrite, RepoAccessAll},
		{"read:repo_hook", HookAccessRead, RepoAccessAll},
		{"user, gist", HookAccessNone, RepoAccessNotSpecified},
		{"", HookAccessNone, RepoAccessNotSpecified},
	}
	for _, tc := range cases {
		got := AccessForScope(tc.scope)
		if got.Hook != tc.hook || got.Repo != tc.repo {
			t.Fatalf("scope %q: expected %s/%s, got %s/%s", tc.scope, tc.hook, tc.repo, got.Hook, got.Repo)
		}
	}
}

func TestTokenPolicy_Suitable(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	incorrect := NewIncorrectTokenSet()
	policy := TokenPolicy{Incorrect: incorrect}

	if !policy.Suitable(testToken("t1", "repo"), now) {
		t.Fatalf("expected repo token to be suitable")
	}
	if policy.Suitable(testToken("t2", "read:repo_hook"), now) {
		t.Fatalf("expected read-only token to be unsuitable")
	}
	old := testToken("t3", "repo")
	old.ExpiresAt = &expired
	if policy.Suitable(old, now) {
		t.Fatalf("expected expired token to be unsuitable")
	}
	marked := testToken("t4", "write:repo_hook")
	incorrect.MarkIncorrect(marked)
	if policy.Suitable(marked, now) {
		t.Fatalf("expected token marked incorrect to be unsuitable")
	}
	if policy.Suitable(Token{Scope: "repo"}, now) {
		t.Fatalf("expected empty token to be unsuitable")
	}
}

func TestTokenPolicy_SuitableTokensKeepsStoreOrder(t *testing.T) {
	store := &memoryTokenStore{tokens: []Token{
		testToken("t1", "read:repo_hook"),
		testToken("t2", "repo"),
		testToken("t3", "admin:repo_hook"),
	}}
	policy := TokenPolicy{Store: store, Incorrect: NewIncorrectTokenSet()}
	connection := Connection{ID: "conn_1"}
	now := time.Now()

	tokens, err := policy.SuitableTokens(context.Background(), connection, "usr_1", now)
	if err != nil {
		t.Fatalf("suitable tokens: %v", err)
	}
	if len(tokens) != 2 || tokens[0].AccessToken != "t2" || tokens[1].AccessToken != "t3" {
		t.Fatalf("unexpected tokens %#v", tokens)
	}

	if _, err := policy.FirstSuitableToken(context.Background(), connection, "usr_2", now); !errors.Is(err, ErrNoSuitableToken) {
		t.Fatalf("expected no suitable token, got %v", err)
	}
	if _, err := (TokenPolicy{}).SuitableTokens(context.Background(), connection, "usr_1", now); !errors.Is(err, ErrTokenStoreRequired) {
		t.Fatalf("expected token store required, got %v", err)
	}
}
