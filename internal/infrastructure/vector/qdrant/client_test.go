package qdrant

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/resilience"
)

type pointsFake struct {
	upserted   *pb.UpsertPoints
	searched   *pb.SearchPoints
	setPayload *pb.SetPayloadPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (f *pointsFake) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserted = in
	return &pb.PointsOperationResponse{}, nil
}

func (f *pointsFake) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.searched = in
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchResp == nil {
		return &pb.SearchResponse{}, nil
	}
	return f.searchResp, nil
}

func (f *pointsFake) SetPayload(_ context.Context, in *pb.SetPayloadPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.setPayload = in
	return &pb.PointsOperationResponse{}, nil
}

type collectionsFake struct {
	names   []string
	size    uint64
	getErr  error
	created *pb.CreateCollection
	gets    int
}

func (f *collectionsFake) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	out := &pb.ListCollectionsResponse{}
	for _, n := range f.names {
		out.Collections = append(out.Collections, &pb.CollectionDescription{Name: n})
	}
	return out, nil
}

func (f *collectionsFake) Get(context.Context, *pb.GetCollectionInfoRequest, ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &pb.GetCollectionInfoResponse{
		Result: &pb.CollectionInfo{
			Config: &pb.CollectionConfig{
				Params: &pb.CollectionParams{
					VectorsConfig: &pb.VectorsConfig{
						Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{Size: f.size, Distance: pb.Distance_Cosine}},
					},
				},
			},
		},
	}, nil
}

func (f *collectionsFake) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestEnsureCollectionCreatesOnce(t *testing.T) {
	cols := &collectionsFake{}
	client := newWithClients(&pointsFake{}, cols, "chunks")

	if err := client.EnsureCollection(context.Background(), 3); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if cols.created == nil {
		t.Fatalf("expected collection create")
	}
	if got := cols.created.GetVectorsConfig().GetParams().GetSize(); got != 3 {
		t.Fatalf("expected size 3, got %d", got)
	}
	cols.created = nil
	if err := client.EnsureCollection(context.Background(), 3); err != nil {
		t.Fatalf("second EnsureCollection() error = %v", err)
	}
	if cols.created != nil {
		t.Fatalf("expected no second create")
	}
}

func TestEnsureCollectionDetectsExistingDimensionMismatch(t *testing.T) {
	cols := &collectionsFake{names: []string{"chunks"}, size: 768}
	client := newWithClients(&pointsFake{}, cols, "chunks")

	err := client.EnsureCollection(context.Background(), 3)
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestUpsertPayload(t *testing.T) {
	points := &pointsFake{}
	client := newWithClients(points, &collectionsFake{}, "chunks")

	chunk := domain.Chunk{
		ID: "4f8a2c1e-0000-5000-8000-000000000001", DocumentID: "doc-1", SourceName: "q3.pdf",
		PageNumber: 4, ChunkIndex: 2, Type: domain.ChunkTable,
		Metadata: &domain.StructuredMetadata{Entity: "Acme Holdings", MetricCategory: "revenue", NormalizedPeriod: "2025-08"},
	}
	if err := client.Upsert(context.Background(), []domain.Chunk{chunk}, [][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if len(points.upserted.GetPoints()) != 1 {
		t.Fatalf("expected 1 point")
	}
	p := points.upserted.GetPoints()[0]
	if p.GetId().GetUuid() != chunk.ID {
		t.Fatalf("expected point id = chunk id, got %s", p.GetId().GetUuid())
	}
	payload := p.GetPayload()
	if payload[fieldSource].GetStringValue() != "q3.pdf" || payload[fieldPage].GetIntegerValue() != 4 {
		t.Fatalf("unexpected provenance payload %+v", payload)
	}
	if payload[fieldEntity].GetStringValue() != "acme holdings" {
		t.Fatalf("expected lowercased entity, got %q", payload[fieldEntity].GetStringValue())
	}
	keys := payload[fieldPeriodKeys].GetListValue().GetValues()
	if len(keys) != 3 || keys[1].GetStringValue() != "2025-Q3" {
		t.Fatalf("unexpected period keys %+v", keys)
	}
	if payload[fieldTombstoned].GetBoolValue() {
		t.Fatalf("new point must not be tombstoned")
	}
}

func TestUpsertRejectsMismatchedInputs(t *testing.T) {
	client := newWithClients(&pointsFake{}, &collectionsFake{}, "chunks")
	err := client.Upsert(context.Background(), []domain.Chunk{{ID: "a"}}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestSearchAppliesFiltersAndExcludesTombstoned(t *testing.T) {
	points := &pointsFake{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{
			{Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}}, Score: 0.9, Payload: map[string]*pb.Value{fieldChunkID: stringValue("c1")}},
			{Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p2"}}, Score: 0.5},
		},
	}}
	client := newWithClients(points, &collectionsFake{size: 3}, "chunks")

	hits, err := client.Search(context.Background(), []float32{1, 0, 0}, 6, domain.SearchFilters{DocumentID: "doc-1", Period: "2025-Q3"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "c1" || hits[1].ChunkID != "p2" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if points.searched.GetLimit() != 6 {
		t.Fatalf("expected limit 6, got %d", points.searched.GetLimit())
	}
	filter := points.searched.GetFilter()
	if len(filter.GetMustNot()) != 1 || filter.GetMustNot()[0].GetField().GetKey() != fieldTombstoned {
		t.Fatalf("expected tombstone exclusion, got %+v", filter.GetMustNot())
	}
	if len(filter.GetMust()) != 2 {
		t.Fatalf("expected 2 must conditions, got %d", len(filter.GetMust()))
	}
	if filter.GetMust()[1].GetField().GetMatch().GetKeyword() != "2025-Q3" {
		t.Fatalf("expected period key match, got %+v", filter.GetMust()[1])
	}
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	client := newWithClients(&pointsFake{}, &collectionsFake{size: 768}, "chunks")

	_, err := client.Search(context.Background(), []float32{1, 0, 0}, 5, domain.SearchFilters{})
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestSearchMissingCollectionIsEmpty(t *testing.T) {
	cols := &collectionsFake{getErr: status.Error(codes.NotFound, "collection not found")}
	client := newWithClients(&pointsFake{}, cols, "chunks")

	hits, err := client.Search(context.Background(), []float32{1}, 5, domain.SearchFilters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestSearchPropagatesFailure(t *testing.T) {
	points := &pointsFake{searchErr: errors.New("unavailable")}
	client := newWithClients(points, &collectionsFake{size: 1}, "chunks")

	if _, err := client.Search(context.Background(), []float32{1}, 5, domain.SearchFilters{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTombstoneDocumentSetsPayloadByDocument(t *testing.T) {
	points := &pointsFake{}
	client := newWithClients(points, &collectionsFake{}, "chunks")

	if err := client.TombstoneDocument(context.Background(), "doc-0"); err != nil {
		t.Fatalf("TombstoneDocument() error = %v", err)
	}
	if !points.setPayload.GetPayload()[fieldTombstoned].GetBoolValue() {
		t.Fatalf("expected tombstoned=true payload")
	}
	cond := points.setPayload.GetPointsSelector().GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != fieldDocumentID || cond.GetMatch().GetKeyword() != "doc-0" {
		t.Fatalf("unexpected selector %+v", cond)
	}
}

type flakyPoints struct {
	pointsFake
	failures int
	calls    int
}

func (f *flakyPoints) Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, status.Error(codes.Unavailable, "connection reset")
	}
	return f.pointsFake.Search(ctx, in, opts...)
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})
}

func TestSearchRetriesUnavailable(t *testing.T) {
	points := &flakyPoints{failures: 2, pointsFake: pointsFake{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{{Score: 0.5, Payload: map[string]*pb.Value{fieldChunkID: stringValue("c1")}}},
	}}}
	client := newWithClients(points, &collectionsFake{size: 1}, "chunks").WithExecutor(testExecutor())

	hits, err := client.Search(context.Background(), []float32{1}, 5, domain.SearchFilters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if points.calls != 3 || len(hits) != 1 {
		t.Fatalf("expected success on third call, got %d calls and %d hits", points.calls, len(hits))
	}
}

func TestSearchMarksExhaustedRetriesTemporary(t *testing.T) {
	points := &flakyPoints{failures: 10}
	client := newWithClients(points, &collectionsFake{size: 1}, "chunks").WithExecutor(testExecutor())

	_, err := client.Search(context.Background(), []float32{1}, 5, domain.SearchFilters{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if points.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", points.calls)
	}
}

func TestClassifyQdrantError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), true, true},
		{"wrapped exhausted", fmt.Errorf("search: %w", status.Error(codes.ResourceExhausted, "busy")), true, true},
		{"not found", status.Error(codes.NotFound, "missing"), false, false},
		{"invalid", status.Error(codes.InvalidArgument, "bad"), false, false},
		{"canceled", context.Canceled, false, false},
		{"plain", errors.New("boom"), false, true},
	}
	for _, tc := range cases {
		got := classifyQdrantError(tc.err)
		if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
			t.Fatalf("%s: got %+v", tc.name, got)
		}
	}
}
