package core

import (
	"fmt"
	"strings"
	"time"
)

type HookStatus string

const (
	HookStatusWaiting   HookStatus = "WAITING_FOR_SERVER_RESPONSE"
	HookStatusOK        HookStatus = "OK"
	HookStatusOutdated  HookStatus = "OUTDATED"
	HookStatusIncorrect HookStatus = "INCORRECT"
	HookStatusMissing   HookStatus = "MISSING"
	HookStatusDisabled  HookStatus = "DISABLED"
	HookStatusNotFound  HookStatus = "NOT_FOUND"
	HookStatusNoInfo    HookStatus = "NO_INFO"

	// hookStatusPayloadDeliveryFailed is only read from older snapshots.
	hookStatusPayloadDeliveryFailed HookStatus = "PAYLOAD_DELIVERY_FAILED"
)

// NormalizeHookStatus maps legacy and unknown values onto the current set.
func NormalizeHookStatus(status HookStatus) HookStatus {
	switch HookStatus(strings.ToUpper(strings.TrimSpace(string(status)))) {
	case HookStatusWaiting:
		return HookStatusWaiting
	case HookStatusOK:
		return HookStatusOK
	case HookStatusOutdated:
		return HookStatusOutdated
	case HookStatusIncorrect, hookStatusPayloadDeliveryFailed:
		return HookStatusIncorrect
	case HookStatusMissing:
		return HookStatusMissing
	case HookStatusDisabled:
		return HookStatusDisabled
	case HookStatusNotFound:
		return HookStatusNotFound
	case HookStatusNoInfo:
		return HookStatusNoInfo
	default:
		return HookStatusNoInfo
	}
}

// HookRecord is the local view of a remote hook. ID, URL and CallbackURL are
// fixed at creation.
type HookRecord struct {
	ID                  int64             `json:"id"`
	URL                 string            `json:"url"`
	CallbackURL         string            `json:"callbackUrl"`
	Status              HookStatus        `json:"status"`
	LastUsed            *time.Time        `json:"lastUsed,omitempty"`
	LastBranchRevisions map[string]string `json:"lastBranchRevisions,omitempty"`
}

func (r HookRecord) Key() (HookKey, error) {
	return ParseHookURL(r.URL)
}

// UIURL points at the hook settings page on the remote server.
func (r HookRecord) UIURL() string {
	key, err := r.Key()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("https://%s/%s/%s/settings/hooks/%d", key.Server, key.Owner, key.Name, key.ID)
}

func (r HookRecord) IsSame(remote RemoteHook) bool {
	return r.ID == remote.ID && r.URL == remote.URL && r.CallbackURL == remote.CallbackURL
}

func (r HookRecord) clone() HookRecord {
	out := r
	if r.LastUsed != nil {
		value := *r.LastUsed
		out.LastUsed = &value
	}
	if r.LastBranchRevisions != nil {
		out.LastBranchRevisions = make(map[string]string, len(r.LastBranchRevisions))
		for ref, sha := range r.LastBranchRevisions {
			out.LastBranchRevisions[ref] = sha
		}
	}
	return out
}

type HookEntry struct {
	Repository RepoKey    `json:"repository"`
	Hook       HookRecord `json:"hook"`
}

type ConnectionRef struct {
	ID                string `json:"id"`
	ProjectExternalID string `json:"projectExternalId"`
}

// AuthData binds the public callback key to everything needed to act as the
// user that created the hook.
type AuthData struct {
	UserID     string        `json:"userId"`
	PublicKey  string        `json:"public"`
	Secret     string        `json:"secret"`
	Repository RepoKey       `json:"repository"`
	Connection ConnectionRef `json:"connection"`
}

type Connection struct {
	ID                string
	ProjectExternalID string
	// Server is the web host, github.com or the enterprise host.
	Server string
	// APIBaseURL overrides the api root for enterprise servers.
	APIBaseURL string
}

type User struct {
	ID       string
	Username string
}

type Token struct {
	ID           string
	AccessToken  string
	Scope        string
	Login        string
	UserID       string
	ConnectionID string
	ExpiresAt    *time.Time
}

func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// identity is the stable handle used for the incorrect token set.
func (t Token) identity() string {
	if id := strings.TrimSpace(t.ID); id != "" {
		return "id:" + id
	}
	return "token:" + t.AccessToken
}

// DeliveryStatus mirrors the remote last_response block of a hook.
type DeliveryStatus struct {
	Code    *int
	Status  string
	Message string
}

type RemoteHook struct {
	ID           int64
	URL          string
	Name         string
	Active       bool
	CallbackURL  string
	ContentType  string
	Events       []string
	LastResponse DeliveryStatus
}

type HookSpec struct {
	Name        string
	CallbackURL string
	ContentType string
	Secret      string
	Events      []string
	Active      bool
}

type PullRequestInfo struct {
	Number         int
	HeadSHA        string
	MergeCommitSHA string
	Mergeable      *bool
}

type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Known     bool
}

type HookActionRequest struct {
	Repository RepoKey
	UserID     string
	Connection Connection
	Token      Token
}

type CreateOutcome string

const (
	CreateOutcomeCreated       CreateOutcome = "created"
	CreateOutcomeAlreadyExists CreateOutcome = "already_exists"
)

type CreateHookResult struct {
	Outcome CreateOutcome
	Hook    HookRecord
}

type DeleteOutcome string

const (
	DeleteOutcomeRemoved      DeleteOutcome = "removed"
	DeleteOutcomeNeverExisted DeleteOutcome = "never_existed"
)

type TestOutcome string

const (
	TestOutcomeTriggered TestOutcome = "triggered"
	TestOutcomeNotFound  TestOutcome = "not_found"
)

// ReconciledHook pairs a matching remote hook with the local record it maps to.
type ReconciledHook struct {
	Remote RemoteHook
	Record HookRecord
}

type VcsCheckRequest struct {
	Repository  RepoKey
	Identifiers []string
	Reason      string
}
