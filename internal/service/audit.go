package service

import (
	"context"
	"encoding/json"

	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository"
)

// writeAudit records an operator or collaborator action inside the caller's transaction.
func writeAudit(ctx context.Context, tx repository.Store, actorID, action, resource, resourceID string, meta map[string]interface{}) error {
	var raw string
	if meta != nil {
		b, _ := json.Marshal(meta)
		raw = string(b)
	}
	return tx.Audit().Create(ctx, &models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Metadata:   raw,
	})
}
