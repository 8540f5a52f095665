package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

// Directory implements notifications.Directory over the push_tokens collection.
type Directory struct {
	tokens *mongodriver.Collection
}

// NewDirectory creates a new MongoDB push token directory.
func NewDirectory(db *mongodriver.Database) *Directory {
	return &Directory{tokens: db.Collection(PushTokenCollection)}
}

// PushTokens returns active tokens registered for the audience.
func (d *Directory) PushTokens(ctx context.Context, audience domain.Audience) ([]string, error) {
	filter := bson.M{"active": true}
	switch audience {
	case domain.AudienceAll:
	case domain.AudienceSubscribers:
		filter["isSubscriber"] = true
	case domain.AudienceBoxHolders:
		filter["isBoxHolder"] = true
	default:
		return nil, fmt.Errorf("audience %q has no directory source", audience)
	}

	opts := options.Find().
		SetProjection(bson.M{"token": 1}).
		SetSort(bson.D{{Key: "createdAt", Value: 1}})

	cursor, err := d.tokens.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []pushTokenDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode push tokens: %w", err)
	}

	tokens := make([]string, 0, len(docs))
	for _, doc := range docs {
		tokens = append(tokens, doc.Token)
	}
	return tokens, nil
}
