package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const githubPublicServer = "github.com"

var repoURLPattern = regexp.MustCompile(`([^/:@]+)[/:]([a-zA-Z0-9.\-_]+)/([a-zA-Z0-9.\-_]+)$`)

// RepoKey identifies a remote repository. Comparison is case-insensitive while
// the original casing is kept for display.
type RepoKey struct {
	Server string `json:"server"`
	Owner  string `json:"owner"`
	Name   string `json:"name"`
}

func NewRepoKey(server, owner, name string) RepoKey {
	return RepoKey{
		Server: strings.TrimRight(strings.TrimSpace(server), "/"),
		Owner:  strings.TrimSpace(owner),
		Name:   strings.TrimSpace(name),
	}
}

func (k RepoKey) String() string {
	return k.Server + "/" + k.Owner + "/" + k.Name
}

// Normalized returns the lower-cased key used for map lookups.
func (k RepoKey) Normalized() RepoKey {
	return RepoKey{
		Server: strings.ToLower(k.Server),
		Owner:  strings.ToLower(k.Owner),
		Name:   strings.ToLower(k.Name),
	}
}

func (k RepoKey) Equal(other RepoKey) bool {
	return strings.EqualFold(k.Server, other.Server) &&
		strings.EqualFold(k.Owner, other.Owner) &&
		strings.EqualFold(k.Name, other.Name)
}

func (k RepoKey) IsZero() bool {
	return k.Server == "" && k.Owner == "" && k.Name == ""
}

func (k RepoKey) Validate() error {
	if k.Server == "" || k.Owner == "" || k.Name == "" {
		return fmt.Errorf("core: repository key %q is incomplete", k.String())
	}
	return nil
}

// HTTPIdentifier is the https form used by hosts to match VCS roots.
func (k RepoKey) HTTPIdentifier() string {
	return "https://" + k.String()
}

// SSHIdentifier is the scp-like form used by hosts to match VCS roots.
func (k RepoKey) SSHIdentifier() string {
	return k.Server + ":" + k.Owner + "/" + k.Name
}

// Identifiers lists the forms a host may use to match the repository against
// its VCS roots.
func (k RepoKey) Identifiers() []string {
	return []string{k.String(), k.SSHIdentifier()}
}

// ParseRepoURL extracts the repository identity from a git remote url. Both
// scheme://host/owner/name and git@host:owner/name forms are accepted.
func ParseRepoURL(raw string) (RepoKey, bool) {
	loc := repoURLPattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return RepoKey{}, false
	}
	if !isSupportedProtocol(raw[:loc[0]]) {
		return RepoKey{}, false
	}
	host := raw[loc[2]:loc[3]]
	owner := raw[loc[4]:loc[5]]
	name := strings.TrimSuffix(raw[loc[6]:loc[7]], ".git")
	if host == "" || owner == "" || name == "" {
		return RepoKey{}, false
	}
	return RepoKey{Server: host, Owner: owner, Name: name}, true
}

func isSupportedProtocol(candidate string) bool {
	if candidate == "" || candidate == "git@" {
		return true
	}
	scheme, user, found := strings.Cut(candidate, "://")
	if !found {
		return false
	}
	if user != "" && user != "git@" {
		return false
	}
	switch strings.ToLower(scheme) {
	case "http", "https", "ssh", "git":
		return true
	default:
		return false
	}
}

// HookKey identifies a single remote hook of a repository.
type HookKey struct {
	Server string
	Owner  string
	Name   string
	ID     int64
}

func (k HookKey) String() string {
	return k.Server + "/" + k.Owner + "/" + k.Name + "/" + strconv.FormatInt(k.ID, 10)
}

func (k HookKey) RepoKey() RepoKey {
	return NewRepoKey(k.Server, k.Owner, k.Name)
}

// ParseHookKey parses the server/owner/name/id form produced by HookKey.String.
func ParseHookKey(raw string) (HookKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) < 4 {
		return HookKey{}, fmt.Errorf("core: invalid hook key %q", raw)
	}
	idPart := parts[len(parts)-1]
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return HookKey{}, fmt.Errorf("core: invalid hook key %q: %w", raw, err)
	}
	return HookKey{
		Server: strings.Join(parts[:len(parts)-3], "/"),
		Owner:  parts[len(parts)-3],
		Name:   parts[len(parts)-2],
		ID:     id,
	}, nil
}

// ParseHookURL parses a hook API url. Public GitHub urls look like
// https://api.github.com/repos/{owner}/{name}/hooks/{id}, enterprise ones
// like https://{host}/api/v3/repos/{owner}/{name}/hooks/{id}.
func ParseHookURL(hookURL string) (HookKey, error) {
	segments := strings.Split(hookURL, "/")
	if len(segments) < 8 {
		return HookKey{}, fmt.Errorf("core: hook url %q has too few segments", hookURL)
	}
	pop := func() string {
		last := segments[len(segments)-1]
		segments = segments[:len(segments)-1]
		return last
	}

	id, err := strconv.ParseInt(pop(), 10, 64)
	if err != nil {
		return HookKey{}, fmt.Errorf("core: hook url %q has invalid id: %w", hookURL, err)
	}
	pop() // hooks
	name := pop()
	owner := pop()
	pop() // repos
	server := pop()
	if server == "api.github.com" {
		server = githubPublicServer
	} else {
		if len(segments) < 2 {
			return HookKey{}, fmt.Errorf("core: hook url %q has too few segments", hookURL)
		}
		pop() // api
		server = pop()
	}
	return HookKey{
		Server: strings.TrimRight(server, "/"),
		Owner:  owner,
		Name:   name,
		ID:     id,
	}, nil
}

// FormatHookURL is the inverse of ParseHookURL.
func FormatHookURL(server, owner, name string, id int64) string {
	base := "https://" + server + "/api/v3"
	if strings.EqualFold(server, githubPublicServer) || strings.EqualFold(server, "api.github.com") {
		base = "https://api.github.com"
	}
	return fmt.Sprintf("%s/repos/%s/%s/hooks/%d", base, owner, name, id)
}
