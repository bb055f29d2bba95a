package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainmsg "tradeup/internal/domain/messaging"
	domainuser "tradeup/internal/domain/user"
)

// MessagingRepository persists conversations and messages. The unique index on
// (participant_a, participant_b) is the authoritative guard against duplicate
// conversations under concurrent first contact.
type MessagingRepository struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func NewMessagingRepository(db *mongo.Database) *MessagingRepository {
	return &MessagingRepository{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}
}

func (r *MessagingRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "participant_a", Value: 1}, {Key: "participant_b", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = r.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
	})
	return err
}

func (r *MessagingRepository) ConversationByID(ctx context.Context, id domainmsg.ConversationID) (*domainmsg.Conversation, error) {
	var doc conversationDocument
	if err := r.conversations.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainmsg.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *MessagingRepository) ConversationByParticipants(ctx context.Context, a, b domainuser.ID) (*domainmsg.Conversation, error) {
	first, second, err := domainmsg.CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}
	var doc conversationDocument
	filter := bson.M{"participant_a": string(first), "participant_b": string(second)}
	if err := r.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainmsg.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *MessagingRepository) ConversationsByParticipant(ctx context.Context, id domainuser.ID) ([]domainmsg.Conversation, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"participant_a": string(id)},
		bson.M{"participant_b": string(id)},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cursor, err := r.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	result := make([]domainmsg.Conversation, 0)
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, *doc.toAggregate())
	}
	return result, cursor.Err()
}

func (r *MessagingRepository) CreateConversation(ctx context.Context, conversation *domainmsg.Conversation) error {
	if conversation == nil {
		return domainmsg.ErrParticipantRequired
	}
	_, err := r.conversations.InsertOne(ctx, newConversationDocument(conversation))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainmsg.ErrConversationExists
		}
		return err
	}
	return nil
}

// AppendMessage inserts the message and refreshes the conversation's
// last-message cache. Both writes run inside a transaction when the deployment
// supports one; on deployments without transactions (standalone mongod) the
// conversation update runs immediately after the insert and a failure there
// surfaces to the caller for retry.
func (r *MessagingRepository) AppendMessage(ctx context.Context, conversation *domainmsg.Conversation, message *domainmsg.Message) error {
	if conversation == nil || message == nil {
		return domainmsg.ErrParticipantRequired
	}
	if !message.BelongsTo(conversation) {
		return domainmsg.ErrMessageNotOwned
	}

	write := func(ctx context.Context) error {
		if _, err := r.messages.InsertOne(ctx, newMessageDocument(message)); err != nil {
			return err
		}
		update := bson.M{"$set": bson.M{
			"last_message_preview": conversation.LastMessagePreview,
			"last_message_at":      conversation.LastMessageAt.UnixMilli(),
		}}
		res, err := r.conversations.UpdateOne(ctx, bson.M{"_id": string(conversation.ID)}, update)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return domainmsg.ErrConversationNotFound
		}
		return nil
	}

	session, err := r.conversations.Database().Client().StartSession()
	if err != nil {
		return write(ctx)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, write(sc)
	})
	if transactionsUnsupported(err) {
		// standalone mongod hands out sessions but rejects the transaction itself
		return write(ctx)
	}
	return err
}

// transactionsUnsupported matches the server error a non-replica-set
// deployment returns for any transaction attempt.
func transactionsUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return cmdErr.Code == 20 && strings.Contains(cmdErr.Message, "Transaction numbers")
}

func (r *MessagingRepository) MessagesByConversation(ctx context.Context, id domainmsg.ConversationID) ([]domainmsg.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.messages.Find(ctx, bson.M{"conversation_id": string(id)}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	result := make([]domainmsg.Message, 0)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, *doc.toAggregate())
	}
	return result, cursor.Err()
}

func (r *MessagingRepository) MarkRead(ctx context.Context, id domainmsg.ConversationID, receiver domainuser.ID) (int64, error) {
	filter := bson.M{
		"conversation_id": string(id),
		"receiver_id":     string(receiver),
		"is_read":         false,
	}
	res, err := r.messages.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessagingRepository) CountUnread(ctx context.Context, id domainmsg.ConversationID, receiver domainuser.ID) (int64, error) {
	return r.messages.CountDocuments(ctx, bson.M{
		"conversation_id": string(id),
		"receiver_id":     string(receiver),
		"is_read":         false,
	})
}

func (r *MessagingRepository) CountUnreadTotal(ctx context.Context, receiver domainuser.ID) (int64, error) {
	return r.messages.CountDocuments(ctx, bson.M{
		"receiver_id": string(receiver),
		"is_read":     false,
	})
}

type conversationDocument struct {
	ID                 string `bson:"_id"`
	ParticipantA       string `bson:"participant_a"`
	ParticipantB       string `bson:"participant_b"`
	ListingID          string `bson:"listing_id,omitempty"`
	LastMessagePreview string `bson:"last_message_preview"`
	LastMessageAt      int64  `bson:"last_message_at"`
	CreatedAt          int64  `bson:"created_at"`
}

func newConversationDocument(c *domainmsg.Conversation) conversationDocument {
	return conversationDocument{
		ID:                 string(c.ID),
		ParticipantA:       string(c.ParticipantA),
		ParticipantB:       string(c.ParticipantB),
		ListingID:          c.ListingID,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt.UnixMilli(),
		CreatedAt:          c.CreatedAt.UnixMilli(),
	}
}

func (d conversationDocument) toAggregate() *domainmsg.Conversation {
	return &domainmsg.Conversation{
		ID:                 domainmsg.ConversationID(d.ID),
		ParticipantA:       domainuser.ID(d.ParticipantA),
		ParticipantB:       domainuser.ID(d.ParticipantB),
		ListingID:          d.ListingID,
		LastMessagePreview: d.LastMessagePreview,
		LastMessageAt:      timestampToTime(d.LastMessageAt),
		CreatedAt:          timestampToTime(d.CreatedAt),
	}
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	ReceiverID     string `bson:"receiver_id"`
	Content        string `bson:"content"`
	IsRead         bool   `bson:"is_read"`
	CreatedAt      int64  `bson:"created_at"`
}

func newMessageDocument(m *domainmsg.Message) messageDocument {
	return messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		ReceiverID:     string(m.ReceiverID),
		Content:        m.Content,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt.UnixMilli(),
	}
}

func (d messageDocument) toAggregate() *domainmsg.Message {
	return &domainmsg.Message{
		ID:             domainmsg.MessageID(d.ID),
		ConversationID: domainmsg.ConversationID(d.ConversationID),
		SenderID:       domainuser.ID(d.SenderID),
		ReceiverID:     domainuser.ID(d.ReceiverID),
		Content:        d.Content,
		IsRead:         d.IsRead,
		CreatedAt:      timestampToTime(d.CreatedAt),
	}
}

var _ domainmsg.Repository = (*MessagingRepository)(nil)
