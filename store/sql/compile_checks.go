package sqlstore

import (
	"github.com/goliatone/go-commit-hooks/core"
	"github.com/goliatone/go-commit-hooks/inbound"
	"github.com/goliatone/go-commit-hooks/ratelimit"
)

var (
	_ core.HookSnapshotStore     = (*HookStore)(nil)
	_ core.AuthDataSnapshotStore = (*AuthDataStore)(nil)
	_ ratelimit.StateStore       = (*QuotaStateStore)(nil)
	_ core.IdempotencyClaimStore = (*DeliveryClaimStore)(nil)
	_ AuthDataSource             = (*AuthDataStore)(nil)
	_ AuthDataSource             = (*CachedAuthDataLookup)(nil)
	_ inbound.AuthLookup         = (*CachedAuthDataLookup)(nil)
)
