package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type hookRecord struct {
	bun.BaseModel `bun:"table:commit_hooks,alias:ch"`

	ID                  string            `bun:"id,pk"`
	RepoKey             string            `bun:"repo_key,notnull"`
	Server              string            `bun:"server,notnull"`
	Owner               string            `bun:"owner,notnull"`
	Name                string            `bun:"name,notnull"`
	HookID              int64             `bun:"hook_id,notnull"`
	URL                 string            `bun:"url,notnull"`
	CallbackURL         string            `bun:"callback_url,notnull"`
	Status              string            `bun:"status,notnull"`
	LastUsed            *time.Time        `bun:"last_used,nullzero"`
	LastBranchRevisions map[string]string `bun:"last_branch_revisions,type:jsonb,notnull"`
	UpdatedAt           time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type authDataRecord struct {
	bun.BaseModel `bun:"table:commit_hook_auth_data,alias:chad"`

	ID                string    `bun:"id,pk"`
	PublicKey         string    `bun:"public_key,notnull"`
	UserID            string    `bun:"user_id,notnull"`
	SealedSecret      []byte    `bun:"sealed_secret,notnull"`
	Server            string    `bun:"server,notnull"`
	Owner             string    `bun:"owner,notnull"`
	Name              string    `bun:"name,notnull"`
	ConnectionID      string    `bun:"connection_id,notnull"`
	ProjectExternalID string    `bun:"project_external_id,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type quotaStateRecord struct {
	bun.BaseModel `bun:"table:commit_hook_quota_state,alias:chqs"`

	ID             string     `bun:"id,pk"`
	Server         string     `bun:"server,notnull"`
	Limit          int        `bun:"limit_value,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	Exhaustions    int        `bun:"exhaustions,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryClaimRecord struct {
	bun.BaseModel `bun:"table:commit_hook_deliveries,alias:chd"`

	ID            string     `bun:"id,pk"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	ClaimID       string     `bun:"claim_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	LeaseMS       int64      `bun:"lease_ms,notnull"`
	LeaseUntil    *time.Time `bun:"lease_until,nullzero"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	LastError     string     `bun:"last_error,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
