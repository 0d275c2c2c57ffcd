package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type WebhookSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewWebhookSQLiteStore(rdb, rwdb *sql.DB) *WebhookSQLiteStore {
	return &WebhookSQLiteStore{rdb, rwdb}
}

func (store *WebhookSQLiteStore) CreateDelivery(
	ctx context.Context,
	deliveryID string,
	projectID *int64,
	provider WebhookProvider,
) (*WebhookDelivery, error) {
	d := &WebhookDelivery{
		DeliveryID:        deliveryID,
		DeliveryProjectID: projectID,
		Provider:          provider,
		Status:            DeliveryReceived,
	}
	query := `insert into webhook_deliveries (
		delivery_id,
		delivery_project_id,
		provider,
		status
	)
	values ($1, $2, $3, $4)
	returning created_on`
	if err := sqlscan.Get(
		ctx, store.rwdb, &d.CreatedOn, query,
		d.DeliveryID, d.DeliveryProjectID, d.Provider, d.Status,
	); err != nil {
		return nil, err
	}
	return d, nil
}

func (store *WebhookSQLiteStore) ReadDeliveryByID(
	ctx context.Context, id string,
) (*WebhookDelivery, error) {
	d := &WebhookDelivery{DeliveryID: id}
	query := "select * from webhook_deliveries where delivery_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, d, query, d.DeliveryID); err != nil {
		return nil, err
	}
	return d, nil
}

func (store *WebhookSQLiteStore) UpdateDeliveryStatus(
	ctx context.Context,
	id string,
	status DeliveryStatus,
	eventType *string,
	processed bool,
	errorDetail *string,
	deploymentID *int64,
) error {
	query := `update webhook_deliveries
	set status = $1,
		event_type = $2,
		processed = $3,
		error_detail = $4,
		deployment_id = $5
	where delivery_id = $6`
	_, err := store.rwdb.ExecContext(
		ctx, query, status, eventType, processed, errorDetail, deploymentID, id,
	)
	return err
}

func (store *WebhookSQLiteStore) ListProjectDeliveries(
	ctx context.Context,
	projectID, limit int64,
) ([]WebhookDelivery, error) {
	query := `select * from webhook_deliveries
	where delivery_project_id = $1
	order by created_on desc limit $2`
	deliveries := make([]WebhookDelivery, 0)
	err := sqlscan.Select(ctx, store.rdb, &deliveries, query, projectID, limit)
	return deliveries, err
}
