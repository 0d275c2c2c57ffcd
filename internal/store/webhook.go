package store

import (
	"context"
	"time"
)

type DeliveryStatus string

const (
	DeliveryReceived  DeliveryStatus = "received"
	DeliveryVerified  DeliveryStatus = "verified"
	DeliveryRejected  DeliveryStatus = "rejected"
	DeliveryProcessed DeliveryStatus = "processed"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is the audit record of one inbound provider call. It is
// written once per processing phase and never mutated after reaching a
// terminal status.
type WebhookDelivery struct {
	DeliveryID        string          `json:"delivery_id"`
	DeliveryProjectID *int64          `json:"project_id"`
	Provider          WebhookProvider `json:"provider"`
	EventType         *string         `json:"event_type"`
	Status            DeliveryStatus  `json:"status"`
	Processed         bool            `json:"processed"`
	ErrorDetail       *string         `json:"error_detail"`
	DeploymentID      *int64          `json:"deployment_id"`
	CreatedOn         time.Time       `json:"created_on"`
}

type WebhookStore interface {
	CreateDelivery(context.Context, string, *int64, WebhookProvider) (*WebhookDelivery, error)
	ReadDeliveryByID(context.Context, string) (*WebhookDelivery, error)
	UpdateDeliveryStatus(
		ctx context.Context,
		id string,
		status DeliveryStatus,
		eventType *string,
		processed bool,
		errorDetail *string,
		deploymentID *int64,
	) error
	ListProjectDeliveries(context.Context, int64, int64) ([]WebhookDelivery, error)
}
