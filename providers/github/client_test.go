package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-commit-hooks/core"
)

var testRepo = core.NewRepoKey("github.com", "acme", "widgets")

func newTestClient(t *testing.T, handler http.HandlerFunc) core.RemoteHookClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	factory, err := New(Config{})
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	client, err := factory.ClientFor(context.Background(),
		core.Connection{ID: "conn_1", Server: "github.com", APIBaseURL: server.URL},
		core.Token{AccessToken: "t1", Scope: "repo"},
	)
	if err != nil {
		t.Fatalf("client for: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestClient_ListHooksFollowsPagesAndRecordsQuota(t *testing.T) {
	var serverURL string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/hooks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer t1" {
			t.Errorf("unexpected authorization %q", got)
		}
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4998")
		w.Header().Set("X-RateLimit-Reset", "1772359200")
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widgets/hooks?page=2>; rel="next"`, serverURL))
			writeJSON(w, http.StatusOK, []map[string]any{{
				"id":     1,
				"name":   "web",
				"active": true,
				"url":    "https://api.github.com/repos/acme/widgets/hooks/1",
				"events": []string{"push", "pull_request"},
				"config": map[string]any{"url": "https://ci.example.com/app/hooks/github/k1", "content_type": "json"},
				"last_response": map[string]any{
					"code": 200, "status": "active", "message": "OK",
				},
			}})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id":            2,
			"name":          "web",
			"active":        false,
			"url":           "https://api.github.com/repos/acme/widgets/hooks/2",
			"config":        map[string]any{"url": "https://other.example.com/hook", "content_type": "form"},
			"last_response": map[string]any{"code": nil, "status": "unused", "message": nil},
		}})
	})
	serverURL = strings.TrimSuffix(client.(*Client).gh.BaseURL.String(), "/")

	hooks, err := client.ListHooks(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("list hooks: %v", err)
	}
	if len(hooks) != 2 {
		t.Fatalf("expected hooks from both pages, got %d", len(hooks))
	}
	first := hooks[0]
	if first.ID != 1 || first.CallbackURL != "https://ci.example.com/app/hooks/github/k1" || first.ContentType != "json" {
		t.Fatalf("unexpected first hook %#v", first)
	}
	if first.LastResponse.Code == nil || *first.LastResponse.Code != 200 || first.LastResponse.Message != "OK" {
		t.Fatalf("unexpected last response %#v", first.LastResponse)
	}
	if hooks[1].LastResponse.Code != nil || hooks[1].LastResponse.Status != "unused" {
		t.Fatalf("expected unused hook without code, got %#v", hooks[1].LastResponse)
	}

	quota := client.Quota()
	if !quota.Known || quota.Limit != 5000 || quota.Remaining != 4998 {
		t.Fatalf("unexpected quota %#v", quota)
	}
}

func TestClient_CreateHookSendsConfig(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body struct {
			Name   string            `json:"name"`
			Active bool              `json:"active"`
			Events []string          `json:"events"`
			Config map[string]string `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Name != "web" || !body.Active || body.Config["secret"] != "s3cret" || body.Config["content_type"] != "json" {
			t.Errorf("unexpected hook request %#v", body)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":     7,
			"name":   body.Name,
			"active": true,
			"url":    "https://api.github.com/repos/acme/widgets/hooks/7",
			"events": body.Events,
			"config": map[string]any{"url": body.Config["url"], "content_type": "json"},
		})
	})

	hook, err := client.CreateHook(context.Background(), testRepo, core.HookSpec{
		Name:        "web",
		CallbackURL: "https://ci.example.com/app/hooks/github/k1",
		ContentType: "json",
		Secret:      "s3cret",
		Events:      []string{"push", "pull_request"},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("create hook: %v", err)
	}
	if hook.ID != 7 || hook.CallbackURL != "https://ci.example.com/app/hooks/github/k1" || len(hook.Events) != 2 {
		t.Fatalf("unexpected hook %#v", hook)
	}
}

func TestClient_CreateHookDuplicateKeepsValidationMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Validation Failed",
			"errors": []map[string]any{{
				"resource": "Hook",
				"code":     "custom",
				"message":  "Hook already exists on this repository",
			}},
		})
	})

	_, err := client.CreateHook(context.Background(), testRepo, core.HookSpec{Name: "web"})
	var remote *core.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if remote.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(remote.Message, "Hook already exists") {
		t.Fatalf("unexpected remote error %#v", remote)
	}
}

func TestClient_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		scopes  *string
		delete  bool
		kind    core.RemoteErrorKind
		message string
	}{
		{name: "bad credentials", status: http.StatusUnauthorized, kind: core.RemoteInvalidCredentials},
		{name: "no scope header", status: http.StatusNotFound, kind: core.RemoteNoAccess},
		{name: "read token", status: http.StatusNotFound, scopes: strPtr("read:repo_hook"), kind: core.RemoteTokenScopeMismatch},
		{name: "admin token", status: http.StatusForbidden, scopes: strPtr("repo, user"), kind: core.RemoteUserHaveNoAccess},
		{name: "write token delete", status: http.StatusNotFound, scopes: strPtr("write:repo_hook"), delete: true, kind: core.RemoteTokenScopeMismatch, message: core.RequiredAdminScopeMessage},
		{name: "server error", status: http.StatusBadGateway, kind: core.RemoteInternalServerError},
		{name: "moved", status: http.StatusMovedPermanently, kind: core.RemoteMoved},
		{name: "unexpected", status: http.StatusConflict, kind: core.RemoteUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.scopes != nil {
					w.Header().Set("X-OAuth-Scopes", *tc.scopes)
				}
				if tc.status == http.StatusMovedPermanently {
					w.Header().Set("Location", "/repositories/42/hooks/1")
				}
				writeJSON(w, tc.status, map[string]any{"message": http.StatusText(tc.status)})
			})

			var err error
			if tc.delete {
				err = client.DeleteHook(context.Background(), testRepo, 1)
			} else {
				err = client.PingHook(context.Background(), testRepo, 1)
			}
			var remote *core.RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("expected remote error, got %v", err)
			}
			if remote.Kind != tc.kind || remote.StatusCode != tc.status {
				t.Fatalf("expected %s (%d), got %s (%d)", tc.kind, tc.status, remote.Kind, remote.StatusCode)
			}
			if tc.message != "" && remote.Message != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, remote.Message)
			}
		})
	}
}

func TestClient_GetPullRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/pulls/12" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"number":           12,
			"head":             map[string]any{"sha": "abc123"},
			"merge_commit_sha": "def456",
			"mergeable":        true,
		})
	})

	info, err := client.GetPullRequest(context.Background(), testRepo, 12)
	if err != nil {
		t.Fatalf("get pull request: %v", err)
	}
	if info.Number != 12 || info.HeadSHA != "abc123" || info.MergeCommitSHA != "def456" {
		t.Fatalf("unexpected pull request %#v", info)
	}
	if info.Mergeable == nil || !*info.Mergeable {
		t.Fatalf("expected mergeable flag")
	}
}

func TestClient_SetHookActiveAndTest(t *testing.T) {
	var seen []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPatch {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["active"] != false {
				t.Errorf("expected active=false, got %#v", body)
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": 3, "active": false})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.SetHookActive(context.Background(), testRepo, 3, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := client.TestHook(context.Background(), testRepo, 3); err != nil {
		t.Fatalf("test hook: %v", err)
	}
	if err := client.DeleteHook(context.Background(), testRepo, 3); err != nil {
		t.Fatalf("delete hook: %v", err)
	}
	want := []string{
		"PATCH /repos/acme/widgets/hooks/3",
		"POST /repos/acme/widgets/hooks/3/tests",
		"DELETE /repos/acme/widgets/hooks/3",
	}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v", seen)
	}
}

func TestClientFactory_BaseURLs(t *testing.T) {
	factory, err := New(Config{})
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	public, err := factory.baseURLFor(core.Connection{Server: "GitHub.com"})
	if err != nil || public != nil {
		t.Fatalf("expected default base url for github.com, got %v (%v)", public, err)
	}
	enterprise, err := factory.baseURLFor(core.Connection{Server: "ghe.example.com"})
	if err != nil {
		t.Fatalf("enterprise base url: %v", err)
	}
	if enterprise.String() != "https://ghe.example.com/api/v3/" {
		t.Fatalf("unexpected enterprise base url %q", enterprise.String())
	}
	if _, err := factory.ClientFor(context.Background(), core.Connection{}, core.Token{}); err == nil {
		t.Fatalf("expected missing access token to fail")
	}
	if _, err := New(Config{APIBaseURL: "not a url"}); err == nil {
		t.Fatalf("expected invalid api base url to fail")
	}
}

func strPtr(value string) *string {
	return &value
}
