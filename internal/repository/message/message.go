package message

import (
	"context"
	"errors"

	"boxchat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
	}
)

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// EnsureIndexes creates the indexes behind history and unseen lookups.
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "recipientId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "seen", Value: 1}}},
	})
	return err
}

// Create stores msg verbatim. Text and Image are opaque.
func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	_, err := r.collection.InsertOne(ctx, msg)
	return err
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Conversation returns every message between a and b, oldest first.
func (r *MessageRepo) Conversation(ctx context.Context, a, b string) ([]model.Message, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"senderId": a, "recipientId": b},
			bson.M{"senderId": b, "recipientId": a},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	messages := []model.Message{}
	if err := cur.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkSeenFrom flags every unseen message from sender to recipient.
func (r *MessageRepo) MarkSeenFrom(ctx context.Context, senderID, recipientID string) (int64, error) {
	filter := bson.M{
		"senderId":    senderID,
		"recipientId": recipientID,
		"seen":        false,
	}
	res, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepo) MarkSeen(ctx context.Context, id string) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": bson.M{"seen": true}})
	return err
}

// UnseenBySender groups the ids of the recipient's unseen messages by
// sender, oldest first.
func (r *MessageRepo) UnseenBySender(ctx context.Context, recipientID string) (map[string][]string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"recipientId": recipientID, "seen": false}}},
		{{Key: "$sort", Value: bson.M{"createdAt": 1}}},
		{{Key: "$group", Value: bson.M{"_id": "$senderId", "ids": bson.M{"$push": "$_id"}}}},
	}

	cur, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		SenderID string   `bson:"_id"`
		IDs      []string `bson:"ids"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	unseen := make(map[string][]string, len(rows))
	for _, row := range rows {
		unseen[row.SenderID] = row.IDs
	}
	return unseen, nil
}
