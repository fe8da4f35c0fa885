package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	approvals *mongo.Collection
	summaries *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures indexes.
func NewMongoStore(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		db:        db,
		approvals: db.Collection("approvals"),
		summaries: db.Collection("daily_summaries"),
	}

	// Unique indexes enforce ErrDuplicate and one summary per truck and day.
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	logger.Info("mongodb store ready", "component", "repository", "database", database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.approvals.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "truck_number", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.summaries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "truck_number", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// approvalDocument represents an approval in MongoDB.
type approvalDocument struct {
	ID            string     `bson:"_id"`
	MessageID     string     `bson:"message_id"`
	TruckNumber   string     `bson:"truck_number"`
	OriginalCount int64      `bson:"original_count"`
	ApprovedCount int64      `bson:"approved_count"`
	Approver      string     `bson:"approver"`
	CreatedAt     time.Time  `bson:"created_at"`
	CorrectedAt   *time.Time `bson:"corrected_at,omitempty"`
}

// summaryDocument represents a daily summary in MongoDB.
type summaryDocument struct {
	TruckNumber   string    `bson:"truck_number"`
	Date          string    `bson:"date"`
	TotalApproved int64     `bson:"total_approved"`
	EntryCount    int64     `bson:"entry_count"`
	CountComplete bool      `bson:"count_complete"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (d approvalDocument) toModel() *model.ApprovalRecord {
	rec := &model.ApprovalRecord{
		ID:            d.ID,
		MessageID:     d.MessageID,
		TruckNumber:   d.TruckNumber,
		OriginalCount: d.OriginalCount,
		ApprovedCount: d.ApprovedCount,
		Approver:      d.Approver,
		CreatedAt:     d.CreatedAt.UTC(),
	}
	if d.CorrectedAt != nil {
		t := d.CorrectedAt.UTC()
		rec.CorrectedAt = &t
	}
	return rec
}

// CreateApproval inserts a record.
func (s *MongoStore) CreateApproval(ctx context.Context, rec *model.ApprovalRecord) error {
	doc := approvalDocument{
		ID:            rec.ID,
		MessageID:     rec.MessageID,
		TruckNumber:   rec.TruckNumber,
		OriginalCount: rec.OriginalCount,
		ApprovedCount: rec.ApprovedCount,
		Approver:      rec.Approver,
		CreatedAt:     rec.CreatedAt.UTC(),
		CorrectedAt:   rec.CorrectedAt,
	}
	if _, err := s.approvals.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("approval for message %s: %w", rec.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// GetApproval returns a record by ID.
func (s *MongoStore) GetApproval(ctx context.Context, id string) (*model.ApprovalRecord, error) {
	return s.findApproval(ctx, bson.M{"_id": id})
}

// FindApprovalByMessageID returns the record for a broker message.
func (s *MongoStore) FindApprovalByMessageID(ctx context.Context, messageID string) (*model.ApprovalRecord, error) {
	return s.findApproval(ctx, bson.M{"message_id": messageID})
}

func (s *MongoStore) findApproval(ctx context.Context, filter bson.M) (*model.ApprovalRecord, error) {
	var doc approvalDocument
	err := s.approvals.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return doc.toModel(), nil
}

// CorrectApprovedCount overwrites approved_count if the record was never corrected.
func (s *MongoStore) CorrectApprovedCount(ctx context.Context, id string, count int64, at time.Time) (*model.ApprovalRecord, error) {
	filter := bson.M{"_id": id, "corrected_at": nil}
	update := bson.M{
		"$set": bson.M{
			"approved_count": count,
			"corrected_at":   at.UTC(),
		},
	}

	result, err := s.approvals.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("failed to correct approval: %w", err)
	}

	rec, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, ErrAlreadyCorrected
	}
	return rec, nil
}

// ListApprovals returns records newest first.
func (s *MongoStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]model.ApprovalRecord, error) {
	query := bson.M{}
	if filter.TruckNumber != "" {
		query["truck_number"] = filter.TruckNumber
	}
	created := bson.M{}
	if !filter.From.IsZero() {
		created["$gte"] = filter.From.UTC()
	}
	if !filter.To.IsZero() {
		created["$lt"] = filter.To.UTC()
	}
	if len(created) > 0 {
		query["created_at"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.approvals.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer cursor.Close(ctx)

	records := []model.ApprovalRecord{}
	for cursor.Next(ctx) {
		var doc approvalDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode approval: %w", err)
		}
		records = append(records, *doc.toModel())
	}
	return records, cursor.Err()
}

// TotalsBetween groups records created in [from, to) by truck number.
func (s *MongoStore) TotalsBetween(ctx context.Context, from, to time.Time) ([]model.TruckTotal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": from.UTC(), "$lt": to.UTC()}}}},
		{{Key: "$group", Value: bson.M{
			"_id":            "$truck_number",
			"total_approved": bson.M{"$sum": "$approved_count"},
			"entry_count":    bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	cursor, err := s.approvals.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate approvals: %w", err)
	}
	defer cursor.Close(ctx)

	totals := []model.TruckTotal{}
	for cursor.Next(ctx) {
		var group struct {
			TruckNumber   string `bson:"_id"`
			TotalApproved int64  `bson:"total_approved"`
			EntryCount    int64  `bson:"entry_count"`
		}
		if err := cursor.Decode(&group); err != nil {
			return nil, fmt.Errorf("failed to decode totals: %w", err)
		}
		totals = append(totals, model.TruckTotal{
			TruckNumber:   group.TruckNumber,
			TotalApproved: group.TotalApproved,
			EntryCount:    group.EntryCount,
		})
	}
	return totals, cursor.Err()
}

// UpsertTotals writes derived totals. count_complete is only ever set on insert.
func (s *MongoStore) UpsertTotals(ctx context.Context, date string, totals []model.TruckTotal, at time.Time) error {
	if len(totals) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(totals))
	for _, t := range totals {
		filter := bson.M{"truck_number": t.TruckNumber, "date": date}
		update := bson.M{
			"$set": bson.M{
				"total_approved": t.TotalApproved,
				"entry_count":    t.EntryCount,
				"updated_at":     at.UTC(),
			},
			"$setOnInsert": bson.M{"count_complete": false},
		}
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := s.summaries.BulkWrite(ctx, models, opts); err != nil {
		return fmt.Errorf("failed to upsert summaries for %s: %w", date, err)
	}
	return nil
}

// ListSummaries returns the rows for date.
func (s *MongoStore) ListSummaries(ctx context.Context, date string) ([]model.DailySummary, error) {
	opts := options.Find().SetSort(bson.D{{Key: "truck_number", Value: 1}})
	cursor, err := s.summaries.Find(ctx, bson.M{"date": date}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer cursor.Close(ctx)

	summaries := []model.DailySummary{}
	for cursor.Next(ctx) {
		var doc summaryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		summaries = append(summaries, model.DailySummary(doc.normalized()))
	}
	return summaries, cursor.Err()
}

// GetSummary returns one row.
func (s *MongoStore) GetSummary(ctx context.Context, truckNumber, date string) (*model.DailySummary, error) {
	var doc summaryDocument
	err := s.summaries.FindOne(ctx, bson.M{"truck_number": truckNumber, "date": date}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	sum := model.DailySummary(doc.normalized())
	return &sum, nil
}

func (d summaryDocument) normalized() summaryDocument {
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d
}

// MarkComplete sets count_complete and nothing else.
func (s *MongoStore) MarkComplete(ctx context.Context, truckNumber, date string, at time.Time) error {
	filter := bson.M{"truck_number": truckNumber, "date": date}
	update := bson.M{"$set": bson.M{"count_complete": true, "updated_at": at.UTC()}}

	result, err := s.summaries.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark summary complete: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// GetStats returns document counts, the latest approval time and storage size.
func (s *MongoStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["backend"] = "mongodb"

	approvals, err := s.approvals.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	stats["total_approvals"] = approvals

	summaries, err := s.summaries.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	stats["total_summaries"] = summaries

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc approvalDocument
	if err := s.approvals.FindOne(ctx, bson.M{}, opts).Decode(&doc); err == nil {
		stats["last_approval"] = doc.CreatedAt.UTC()
	}

	var dbStats bson.M
	if err := s.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&dbStats); err == nil {
		switch size := dbStats["dataSize"].(type) {
		case int64:
			stats["db_size_bytes"] = size
		case int32:
			stats["db_size_bytes"] = int64(size)
		case float64:
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

// Close closes the MongoDB connection.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ensure MongoStore implements Store
var _ Store = (*MongoStore)(nil)
