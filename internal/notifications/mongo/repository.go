// Package mongo provides MongoDB implementation of notifications repository.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/notifications"
)

// Collection names.
const (
	DeliveryCollection  = "delivery_records"
	PushTokenCollection = "push_tokens"
)

// Repository implements notifications.Repository using MongoDB.
type Repository struct {
	deliveries *mongodriver.Collection
}

// NewRepository creates a new MongoDB repository.
func NewRepository(db *mongodriver.Database) *Repository {
	return &Repository{deliveries: db.Collection(DeliveryCollection)}
}

// EnsureIndexes creates the indexes the sweep and listing queries rely on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.deliveries.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "scheduledFor", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "channel", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create delivery indexes: %w", err)
	}
	return nil
}

// CreateDelivery inserts a new delivery record.
func (r *Repository) CreateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error {
	if _, err := r.deliveries.InsertOne(ctx, toDocument(rec)); err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// UpdateDelivery persists the mutable state of a delivery record.
func (r *Repository) UpdateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error {
	doc := toDocument(rec)
	update := bson.M{"$set": bson.M{
		"state":          doc.State,
		"sentAt":         doc.SentAt,
		"recipients":     doc.Recipients,
		"sentCount":      doc.SentCount,
		"deliveredCount": doc.DeliveredCount,
		"failedCount":    doc.FailedCount,
		"resultMeta":     doc.ResultMeta,
		"updatedAt":      doc.UpdatedAt,
	}}

	result, err := r.deliveries.UpdateByID(ctx, rec.ID, update)
	if err != nil {
		return fmt.Errorf("update delivery record: %w", err)
	}
	if result.MatchedCount == 0 {
		return notifications.ErrDeliveryNotFound
	}
	return nil
}

// GetDelivery retrieves a delivery record by ID.
func (r *Repository) GetDelivery(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	var doc deliveryDocument
	err := r.deliveries.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, notifications.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return doc.toDomain(), nil
}

// ListDeliveries returns delivery records matching filter, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, filter notifications.DeliveryFilter) ([]domain.DeliveryRecord, error) {
	query := bson.M{}
	if filter.Channel != "" {
		query["channel"] = string(filter.Channel)
	}
	if filter.State != "" {
		query["state"] = string(filter.State)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(filter.Limit))

	cursor, err := r.deliveries.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []deliveryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode delivery records: %w", err)
	}

	records := make([]domain.DeliveryRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, *doc.toDomain())
	}
	return records, nil
}

// ClaimDueDeliveries claims due scheduled records one at a time, oldest first.
// Each claim is a single conditional update, so a record moves out of
// scheduled for exactly one caller.
func (r *Repository) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	filter := bson.M{
		"state":        string(domain.DeliveryStateScheduled),
		"scheduledFor": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{
		"state":     string(domain.DeliveryStatePending),
		"sentAt":    now,
		"updatedAt": now,
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "scheduledFor", Value: 1}}).
		SetReturnDocument(options.After)

	claimed := make([]*domain.DeliveryRecord, 0)
	for len(claimed) < limit {
		var doc deliveryDocument
		err := r.deliveries.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			break
		}
		if err != nil {
			if len(claimed) > 0 {
				// already-claimed records must still be processed
				return claimed, nil
			}
			return nil, fmt.Errorf("claim due delivery: %w", err)
		}
		claimed = append(claimed, doc.toDomain())
	}

	return claimed, nil
}
