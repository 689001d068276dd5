package telemetry

import (
	"context"
	"log"
	"strconv"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter records management actions (role changes, kicks, ownership
// transfers) on the audit exchange.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string         `json:"level"`
	Text   string         `json:"text"`
	Action string         `json:"action,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes a free-text audit line.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID int) {
	e.publish(ctx, requestID, userID, AuditPayload{Level: level, Text: text})
}

// EmitAction publishes a structured audit record for a named action.
func (e *AuditEmitter) EmitAction(ctx context.Context, action, requestID string, userID int, fields map[string]any) {
	e.publish(ctx, requestID, userID, AuditPayload{
		Level:  "INFO",
		Text:   action + " by user " + strconv.Itoa(userID),
		Action: action,
		Fields: fields,
	})
}

func (e *AuditEmitter) publish(ctx context.Context, requestID string, userID int, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	var uid *string
	if userID != 0 {
		s := strconv.Itoa(userID)
		uid = &s
	}
	log.Printf("audit emit: level=%s request_id=%s user_id=%d text=%q", payload.Level, requestID, userID, payload.Text)

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        uid,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
