package qdrant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/resilience"
)

const (
	fieldChunkID    = "chunk_id"
	fieldDocumentID = "doc_id"
	fieldSource     = "source"
	fieldPage       = "page"
	fieldChunkIndex = "chunk_index"
	fieldType       = "type"
	fieldEntity     = "entity"
	fieldMetric     = "metric"
	fieldPeriodKeys = "period_keys"
	fieldTombstoned = "tombstoned"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	SetPayload(ctx context.Context, in *pb.SetPayloadPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Client is the dense index over a single Qdrant collection. Points are keyed
// by chunk id and carry the chunk's provenance and structured fields as
// payload so caller filters can be applied inside the search.
type Client struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	executor    *resilience.Executor

	mu        sync.Mutex
	dimension int
}

func New(addr, collection string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	c := newWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	c.conn = conn
	return c, nil
}

func newWithClients(points pointsAPI, collections collectionsAPI, collection string) *Client {
	return &Client{
		points:      points,
		collections: collections,
		collection:  collection,
	}
}

// WithExecutor routes point reads and writes through the retry and breaker
// policy of executor.
func (c *Client) WithExecutor(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// EnsureCollection creates the collection if missing. An existing collection
// with another vector size is a dimension mismatch.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	if known := c.knownDimension(); known > 0 {
		return checkDimension(known, dimension)
	}

	list, err := c.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list qdrant collections: %w", err)
	}
	for _, desc := range list.GetCollections() {
		if desc.GetName() != c.collection {
			continue
		}
		existing, err := c.loadDimension(ctx)
		if err != nil {
			return err
		}
		return checkDimension(existing, dimension)
	}

	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create qdrant collection %s: %w", c.collection, err)
	}
	c.setDimension(dimension)
	return nil
}

func (c *Client) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors))
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: chunk.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: chunkPayload(chunk),
		})
	}

	wait := true
	err := c.executor.Execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: c.collection,
			Wait:           &wait,
			Points:         points,
		})
		return err
	}, classifyQdrantError)
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant upsert", fmt.Errorf("upsert %d points: %w", len(points), err))
	}
	return nil
}

// Search returns cosine similarity hits. A missing collection is an empty
// index, not a failure.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, filters domain.SearchFilters) ([]domain.LegHit, error) {
	known, err := c.searchDimension(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if err := checkDimension(known, len(vector)); err != nil {
		return nil, err
	}

	req := &pb.SearchPoints{
		CollectionName: c.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         buildFilter(filters),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	resp, err := resilience.Do(ctx, c.executor, "qdrant.search", func(ctx context.Context) (*pb.SearchResponse, error) {
		return c.points.Search(ctx, req)
	}, classifyQdrantError)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, wrapTemporaryIfNeeded("qdrant search", fmt.Errorf("qdrant search: %w", err))
	}

	out := make([]domain.LegHit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetPayload()[fieldChunkID].GetStringValue()
		if id == "" {
			id = r.GetId().GetUuid()
		}
		out = append(out, domain.LegHit{ChunkID: id, Score: float64(r.GetScore())})
	}
	return out, nil
}

// TombstoneDocument flags every point of the document; flagged points are
// excluded from search.
func (c *Client) TombstoneDocument(ctx context.Context, documentID string) error {
	wait := true
	req := &pb.SetPayloadPoints{
		CollectionName: c.collection,
		Wait:           &wait,
		Payload: map[string]*pb.Value{
			fieldTombstoned: boolValue(true),
		},
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{keywordMatch(fieldDocumentID, documentID)}},
			},
		},
	}
	err := c.executor.Execute(ctx, "qdrant.set_payload", func(ctx context.Context) error {
		_, err := c.points.SetPayload(ctx, req)
		return err
	}, classifyQdrantError)
	if err != nil && !isNotFound(err) {
		return wrapTemporaryIfNeeded("qdrant tombstone", fmt.Errorf("tombstone points of %s: %w", documentID, err))
	}
	return nil
}

func (c *Client) searchDimension(ctx context.Context) (int, error) {
	if known := c.knownDimension(); known > 0 {
		return known, nil
	}
	return c.loadDimension(ctx)
}

func (c *Client) loadDimension(ctx context.Context) (int, error) {
	info, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: c.collection})
	if err != nil {
		return 0, fmt.Errorf("get qdrant collection %s: %w", c.collection, err)
	}
	size := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if size <= 0 {
		return 0, fmt.Errorf("qdrant collection %s has no single dense vector config", c.collection)
	}
	c.setDimension(size)
	return size, nil
}

func (c *Client) knownDimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

func (c *Client) setDimension(dimension int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dimension = dimension
}

func checkDimension(indexed, got int) error {
	if indexed == got {
		return nil
	}
	return domain.WrapError(
		domain.ErrDimensionMismatch,
		"dense index",
		fmt.Errorf("collection has %d dimensions, vector has %d", indexed, got),
	)
}

func isNotFound(err error) bool {
	return grpcCode(err) == codes.NotFound
}

func buildFilter(filters domain.SearchFilters) *pb.Filter {
	filter := &pb.Filter{
		MustNot: []*pb.Condition{boolMatch(fieldTombstoned, true)},
	}
	if filters.DocumentID != "" {
		filter.Must = append(filter.Must, keywordMatch(fieldDocumentID, filters.DocumentID))
	}
	if filters.SourceName != "" {
		filter.Must = append(filter.Must, keywordMatch(fieldSource, filters.SourceName))
	}
	if filters.Entity != "" {
		filter.Must = append(filter.Must, keywordMatch(fieldEntity, strings.ToLower(filters.Entity)))
	}
	if filters.MetricCategory != "" {
		filter.Must = append(filter.Must, keywordMatch(fieldMetric, filters.MetricCategory))
	}
	if filters.Period != "" {
		filter.Must = append(filter.Must, keywordMatch(fieldPeriodKeys, filters.Period))
	}
	return filter
}

func chunkPayload(chunk domain.Chunk) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		fieldChunkID:    stringValue(chunk.ID),
		fieldDocumentID: stringValue(chunk.DocumentID),
		fieldSource:     stringValue(chunk.SourceName),
		fieldPage:       intValue(chunk.PageNumber),
		fieldChunkIndex: intValue(chunk.ChunkIndex),
		fieldType:       stringValue(string(chunk.Type)),
		fieldTombstoned: boolValue(chunk.Tombstoned),
	}
	if meta := chunk.Metadata; meta != nil {
		if meta.Entity != "" {
			payload[fieldEntity] = stringValue(strings.ToLower(meta.Entity))
		}
		if meta.MetricCategory != "" {
			payload[fieldMetric] = stringValue(meta.MetricCategory)
		}
		if keys := domain.PeriodKeys(meta.NormalizedPeriod); len(keys) > 0 {
			values := make([]*pb.Value, 0, len(keys))
			for _, k := range keys {
				values = append(values, stringValue(k))
			}
			payload[fieldPeriodKeys] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
		}
	}
	return payload
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

func boolValue(b bool) *pb.Value {
	return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: b}}
}

func keywordMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func boolMatch(key string, value bool) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: value}},
			},
		},
	}
}
