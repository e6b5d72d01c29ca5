package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ServiceCreated    = "service.created"
	ServiceUpdated    = "service.updated"
	ServiceDuplicated = "service.duplicated"
	ServiceDeleted    = "service.deleted"
	SectionsReordered = "sections.reordered"
	ItemsReordered    = "items.reordered"
	CatalogImported   = "catalog.imported"
	UserCreated       = "user.created"
	UserRemoved       = "user.removed"
	UserLoggedIn      = "user.login"
	UserLoggedOut     = "user.logout"
	APIKeyCreated     = "api_key.created"
	APIKeyRevoked     = "api_key.revoked"
	PasswordChanged   = "user.password_changed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
