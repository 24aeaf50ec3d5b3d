package remote

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mesa-system/internal/apperrors"
)

// referenceFields are document keys holding entity references. Incoming
// string values for these keys are cast to ObjectIDs, the way mongoose casts
// schema reference paths.
var referenceFields = map[string]bool{
	"_id":      true,
	"branch":   true,
	"customer": true,
	"table":    true,
	"product":  true,
	"supplier": true,
	"cashier":  true,
	"waiter":   true,
}

// Store is the document-store adapter consumed by the unified data layer and
// the sync service. Ids cross its boundary as hex strings so relational-side
// code never handles driver types.
type Store struct {
	client  *Client
	log     zerolog.Logger
	timeout time.Duration
}

func NewStore(client *Client, logger zerolog.Logger) *Store {
	return &Store{
		client:  client,
		log:     logger.With().Str("component", "remote-store").Logger(),
		timeout: defaultOpTimeout,
	}
}

type FindOptions struct {
	SortField string
	SortDesc  bool
	Limit     int64
	Skip      int64
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func castFilter(filter map[string]interface{}) bson.M {
	out := bson.M{}
	for k, v := range filter {
		if referenceFields[k] {
			if hex, ok := v.(string); ok {
				if oid, err := primitive.ObjectIDFromHex(hex); err == nil {
					out[k] = oid
					continue
				}
			}
		}
		if k == "$or" {
			if clauses, ok := v.([]map[string]interface{}); ok {
				or := make([]bson.M, 0, len(clauses))
				for _, clause := range clauses {
					or = append(or, castFilter(clause))
				}
				out[k] = or
				continue
			}
		}
		out[k] = castValue(v)
	}
	return out
}

// castValue recurses into nested documents and arrays so reference fields
// inside embedded items get cast too.
func castValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return castFilter(t)
	case []map[string]interface{}:
		out := make([]bson.M, len(t))
		for i, e := range t {
			out[i] = castFilter(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = castValue(e)
		}
		return out
	default:
		return v
	}
}

// normalizeValue converts driver types into plain Go values: ObjectIDs to
// hex strings, DateTimes to time.Time, nested documents recursively.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time()
	case bson.M:
		return normalizeDoc(t)
	case bson.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func normalizeDoc(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func (s *Store) FindAll(ctx context.Context, collection string, filter map[string]interface{}, fo FindOptions) ([]map[string]interface{}, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.Find()
	if fo.SortField != "" {
		dir := 1
		if fo.SortDesc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: fo.SortField, Value: dir}})
	}
	if fo.Limit > 0 {
		opts.SetLimit(fo.Limit)
	}
	if fo.Skip > 0 {
		opts.SetSkip(fo.Skip)
	}

	cur, err := s.client.Collection(collection).Find(ctx, castFilter(filter), opts)
	if err != nil {
		return nil, apperrors.StoreUnavailable("find "+collection, err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperrors.StoreUnavailable("find "+collection, err)
	}

	out := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		out[i] = normalizeDoc(d)
	}
	return out, nil
}

// FindOne returns (nil, nil) when no document matches; infrastructure
// failures come back as StoreUnavailableError.
func (s *Store) FindOne(ctx context.Context, collection string, filter map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var doc bson.M
	err := s.client.Collection(collection).FindOne(ctx, castFilter(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("findOne "+collection, err)
	}
	return normalizeDoc(doc), nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc map[string]interface{}) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.client.Collection(collection).InsertOne(ctx, castFilter(doc))
	if err != nil {
		return "", apperrors.StoreUnavailable("insert "+collection, err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", apperrors.StoreUnavailable("insert "+collection, errors.New("unexpected inserted id type"))
	}
	return oid.Hex(), nil
}

func (s *Store) UpdateByID(ctx context.Context, collection, hexID string, set map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(hexID)
	if err != nil {
		return apperrors.Validation("id", "invalid remote id %q", hexID)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.client.Collection(collection).
		UpdateByID(ctx, oid, bson.M{"$set": castFilter(set)})
	if err != nil {
		return apperrors.StoreUnavailable("update "+collection, err)
	}
	return nil
}

// UpsertByID replaces the document with the given id, creating it if absent.
// This is the idempotent write the push phase relies on.
func (s *Store) UpsertByID(ctx context.Context, collection, hexID string, doc map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(hexID)
	if err != nil {
		return apperrors.Validation("id", "invalid remote id %q", hexID)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.client.Collection(collection).ReplaceOne(
		ctx,
		bson.M{"_id": oid},
		castFilter(doc),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return apperrors.StoreUnavailable("upsert "+collection, err)
	}
	return nil
}

// FetchAll returns the full collection, for the pull phase.
func (s *Store) FetchAll(ctx context.Context, collection string) ([]map[string]interface{}, error) {
	return s.FindAll(ctx, collection, map[string]interface{}{}, FindOptions{})
}

type OrderStats struct {
	TotalOrders       int64
	TotalRevenue      float64
	CompletedOrders   int64
	PendingOrders     int64
	AverageOrderValue float64
}

// AggregateOrderStats computes branch order statistics for a period.
func (s *Store) AggregateOrderStats(ctx context.Context, branchHex string, start, end time.Time) (OrderStats, error) {
	branch, err := primitive.ObjectIDFromHex(branchHex)
	if err != nil {
		return OrderStats{}, apperrors.Validation("branch", "invalid branch id %q", branchHex)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"branch":    branch,
			"createdAt": bson.M{"$gte": start, "$lte": end},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":          nil,
			"totalOrders":  bson.M{"$sum": 1},
			"totalRevenue": bson.M{"$sum": "$finalTotal"},
			"completedOrders": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$status", "completed"}}, 1, 0},
			}},
			"pendingOrders": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$in": bson.A{"$status", bson.A{"pending", "confirmed", "preparing"}}}, 1, 0},
			}},
			"averageOrderValue": bson.M{"$avg": "$finalTotal"},
		}}},
	}

	cur, err := s.client.Collection(CollOrders).Aggregate(ctx, pipeline)
	if err != nil {
		return OrderStats{}, apperrors.StoreUnavailable("aggregate orders", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		TotalOrders       int64   `bson:"totalOrders"`
		TotalRevenue      float64 `bson:"totalRevenue"`
		CompletedOrders   int64   `bson:"completedOrders"`
		PendingOrders     int64   `bson:"pendingOrders"`
		AverageOrderValue float64 `bson:"averageOrderValue"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return OrderStats{}, apperrors.StoreUnavailable("aggregate orders", err)
	}
	if len(rows) == 0 {
		return OrderStats{}, nil
	}
	r := rows[0]
	return OrderStats{
		TotalOrders:       r.TotalOrders,
		TotalRevenue:      r.TotalRevenue,
		CompletedOrders:   r.CompletedOrders,
		PendingOrders:     r.PendingOrders,
		AverageOrderValue: r.AverageOrderValue,
	}, nil
}

// AggregateKitchenStats counts active orders per kitchen status.
func (s *Store) AggregateKitchenStats(ctx context.Context, branchHex string) (map[string]int64, error) {
	branch, err := primitive.ObjectIDFromHex(branchHex)
	if err != nil {
		return nil, apperrors.Validation("branch", "invalid branch id %q", branchHex)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"branch": branch,
			"status": bson.M{"$in": bson.A{"pending", "confirmed", "preparing", "ready"}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$kitchenStatus",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cur, err := s.client.Collection(CollOrders).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperrors.StoreUnavailable("aggregate kitchen", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, apperrors.StoreUnavailable("aggregate kitchen", err)
	}

	stats := map[string]int64{"pending": 0, "preparing": 0, "ready": 0}
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
