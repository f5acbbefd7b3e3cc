package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func hookHandlers() repository.ModelHandlers[*hookRecord] {
	return repository.ModelHandlers[*hookRecord]{
		NewRecord: func() *hookRecord {
			return &hookRecord{}
		},
		GetID: func(record *hookRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *hookRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "repo_key"
		},
		GetIdentifierValue: func(record *hookRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.RepoKey)
		},
	}
}

func authDataHandlers() repository.ModelHandlers[*authDataRecord] {
	return repository.ModelHandlers[*authDataRecord]{
		NewRecord: func() *authDataRecord {
			return &authDataRecord{}
		},
		GetID: func(record *authDataRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *authDataRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "public_key"
		},
		GetIdentifierValue: func(record *authDataRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.PublicKey)
		},
	}
}

func quotaStateHandlers() repository.ModelHandlers[*quotaStateRecord] {
	return repository.ModelHandlers[*quotaStateRecord]{
		NewRecord: func() *quotaStateRecord {
			return &quotaStateRecord{}
		},
		GetID: func(record *quotaStateRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *quotaStateRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "server"
		},
		GetIdentifierValue: func(record *quotaStateRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.Server)
		},
	}
}

func deliveryClaimHandlers() repository.ModelHandlers[*deliveryClaimRecord] {
	return repository.ModelHandlers[*deliveryClaimRecord]{
		NewRecord: func() *deliveryClaimRecord {
			return &deliveryClaimRecord{}
		},
		GetID: func(record *deliveryClaimRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deliveryClaimRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "delivery_id"
		},
		GetIdentifierValue: func(record *deliveryClaimRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.DeliveryID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
