package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hr-messenger/apps/messenger-service/model"
	"hr-messenger/pkg/database"
)

const messageCollection = "messages"

// messageDAO .
type messageDAO struct {
	db *database.MongoDB
}

// NewMessageDAO 创建消息DAO并建立索引
func NewMessageDAO(db *database.MongoDB) (MessageDAO, error) {
	d := &messageDAO{db: db}
	if err := d.ensureIndexes(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// ensureIndexes 建立查询和幂等所需的索引
func (d *messageDAO) ensureIndexes(ctx context.Context) error {
	coll := d.db.GetCollection(messageCollection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "from", Value: 1}, {Key: "to", Value: 1}, {Key: "message_id", Value: 1}}},
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "message_id", Value: 1}}},
		// 同一发送者的nonce只接受一次
		{
			Keys:    bson.D{{Key: "from", Value: 1}, {Key: "client_nonce", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"client_nonce": bson.M{"$gt": ""}}),
		},
	}

	_, err := coll.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %v", err)
	}
	return nil
}

// SaveMessage 保存消息
func (d *messageDAO) SaveMessage(ctx context.Context, msg *model.Message) error {
	coll := d.db.GetCollection(messageCollection)

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := coll.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to save message: %v", err)
	}
	return nil
}

// FindByNonce 按发送者和nonce查找消息，用于重复发送的幂等处理
func (d *messageDAO) FindByNonce(ctx context.Context, senderID int64, nonce string) (*model.Message, error) {
	if nonce == "" {
		return nil, nil
	}

	coll := d.db.GetCollection(messageCollection)

	var msg model.Message
	err := coll.FindOne(ctx, bson.M{"from": senderID, "client_nonce": nonce}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by nonce: %v", err)
	}
	return &msg, nil
}

// DirectHistory 获取单聊历史，按消息ID升序（最旧在前）
func (d *messageDAO) DirectHistory(ctx context.Context, userA, userB int64, limit int64) ([]*model.Message, error) {
	coll := d.db.GetCollection(messageCollection)

	filter := bson.M{
		"group_id": 0,
		"$or": []bson.M{
			{"from": userA, "to": userB},
			{"from": userB, "to": userA},
		},
	}

	return d.findHistory(ctx, coll, filter, limit)
}

// GroupHistory 获取群聊历史，按消息ID升序（最旧在前）
func (d *messageDAO) GroupHistory(ctx context.Context, groupID int64, limit int64) ([]*model.Message, error) {
	coll := d.db.GetCollection(messageCollection)
	return d.findHistory(ctx, coll, bson.M{"group_id": groupID}, limit)
}

// findHistory 取最近limit条后按ID升序返回
func (d *messageDAO) findHistory(ctx context.Context, coll *mongo.Collection, filter bson.M, limit int64) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().SetSort(bson.D{{Key: "message_id", Value: -1}}).SetLimit(limit)
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %v", err)
	}
	defer cursor.Close(ctx)

	var messages []*model.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode history: %v", err)
	}

	// 倒序查询取最近N条，翻转为最旧在前
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// CountDirectUnread 统计单聊未读数：对方发来的、ID在水位之上的消息
func (d *messageDAO) CountDirectUnread(ctx context.Context, viewerID, otherID, watermark int64) (int64, error) {
	coll := d.db.GetCollection(messageCollection)

	count, err := coll.CountDocuments(ctx, bson.M{
		"group_id":   0,
		"from":       otherID,
		"to":         viewerID,
		"message_id": bson.M{"$gt": watermark},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count direct unread: %v", err)
	}
	return count, nil
}

// CountGroupUnread 统计群聊未读数：他人发送的、ID在水位之上的消息
func (d *messageDAO) CountGroupUnread(ctx context.Context, groupID, viewerID, watermark int64) (int64, error) {
	coll := d.db.GetCollection(messageCollection)

	count, err := coll.CountDocuments(ctx, bson.M{
		"group_id":   groupID,
		"from":       bson.M{"$ne": viewerID},
		"message_id": bson.M{"$gt": watermark},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count group unread: %v", err)
	}
	return count, nil
}
