package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadDocID holds the caller's id; qdrant point ids must be UUIDs or integers.
const payloadDocID = "doc_id"

// pointNamespace derives stable point UUIDs from document ids.
var pointNamespace = uuid.MustParse("6f1d3c2e-8a4b-4f57-9d0e-2b7c5a913e48")

// QdrantIndex stores one collection in a Qdrant server over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	name       string
	dimensions int
	mu         sync.Mutex
	ready      bool
}

func newQdrantIndex(ctx context.Context, client *qdrant.Client, name string, dimensions int) (*QdrantIndex, error) {
	q := &QdrantIndex{client: client, name: name, dimensions: dimensions}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, q.name)
	if err != nil {
		return fmt.Errorf("check qdrant collection %s: %w", q.name, err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create qdrant collection %s: %w", q.name, err)
		}
	}
	q.ready = true
	return nil
}

func (q *QdrantIndex) Type() string {
	return string(IndexTypeQdrant)
}

func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), q.dimensions)
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				payloadDocID: {Kind: &qdrant.Value_StringValue{StringValue: id}},
			},
		}
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), q.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.name,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Params:         &qdrant.SearchParams{Exact: qdrant.PtrOf(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	results := make([]*VectorResult, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()[payloadDocID].GetStringValue()
		if id == "" {
			continue
		}
		results = append(results, &VectorResult{ID: id, Score: float64(p.GetScore())})
	}
	sortResults(results)
	return results, nil
}

func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Reset drops the collection; it is recreated on next use.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	q.mu.Lock()
	q.ready = false
	q.mu.Unlock()
	if err := q.client.DeleteCollection(ctx, q.name); err != nil {
		return fmt.Errorf("qdrant drop %s: %w", q.name, err)
	}
	return q.ensureCollection(ctx)
}

func (q *QdrantIndex) Flush() error { return nil }

// Size asks the server for an exact point count.
func (q *QdrantIndex) Size(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count %s: %w", q.name, err)
	}
	return int(n), nil
}

// Close leaves the shared client open; the Factory owns it.
func (q *QdrantIndex) Close() error { return nil }
