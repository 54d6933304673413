package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	CompanyID  *uuid.UUID      `json:"companyId,omitempty"`
	Data       json.RawMessage `json:"data"`
}
