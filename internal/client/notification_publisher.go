package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: approval_required, workflow_approved, workflow_rejected
//
// Publish errors are returned to the effect dispatcher, which owns retrying;
// they never reach the workflow state machine.
type NotificationPublisher struct {
	js  nats.JetStreamContext
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	CompanyID    string         `json:"company_id"`
	Recipients   []string       `json:"recipients,omitempty"`
	RecipientID  string         `json:"recipient_id,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher on the given NATS connection.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) (*NotificationPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	return &NotificationPublisher{js: js, log: log}, nil
}

// NotifyApprover tells the current step's approver (or approver role group)
// that a decision is awaited.
func (p *NotificationPublisher) NotifyApprover(ctx context.Context, wf *repository.Workflow, step *repository.WorkflowStep) error {
	event := &NotificationEvent{
		EventType:    "approval_required",
		CompanyID:    wf.CompanyID,
		Recipients:   step.ApproverRoles,
		ResourceType: string(wf.EntityType),
		ResourceID:   wf.EntityID,
		IsActionable: true,
		Severity:     "info",
		Category:     "approvals",
		Payload: map[string]any{
			"workflow_id": wf.ID,
			"step_number": step.StepNumber,
			"step_name":   step.Name,
		},
	}
	if step.ApproverUserID != nil {
		event.RecipientID = *step.ApproverUserID
		event.Recipients = nil
	}
	return p.publish(event)
}

// NotifyRequestor tells the workflow creator about a terminal outcome.
func (p *NotificationPublisher) NotifyRequestor(ctx context.Context, wf *repository.Workflow) error {
	eventType := "workflow_approved"
	if wf.Status == repository.WorkflowRejected {
		eventType = "workflow_rejected"
	}
	return p.publish(&NotificationEvent{
		EventType:    eventType,
		CompanyID:    wf.CompanyID,
		RecipientID:  wf.CreatedBy,
		ResourceType: string(wf.EntityType),
		ResourceID:   wf.EntityID,
		Severity:     "info",
		Category:     "approvals",
		Payload: map[string]any{
			"workflow_id": wf.ID,
			"status":      wf.Status,
		},
	})
}

func (p *NotificationPublisher) publish(event *NotificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := fmt.Sprintf("notifications.approvals.%s", event.EventType)
	if _, err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Msg("notification: event published")
	return nil
}
