package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Qdrant is an Index backed by a Qdrant collection over gRPC, for corpora
// too large to search brute-force in memory. Approximate search may relax
// the exact tie-break contract; correctness tests use the Memory index.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	size        atomic.Int64
}

// NewQdrant connects to Qdrant and creates a dedicated collection for the
// owning session. Close drops the collection again.
func NewQdrant(ctx context.Context, host string, port int, collection string, metric Metric, dimension int) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	q := &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}

	distance := pb.Distance_Cosine
	if metric == MetricL2 {
		distance = pb.Distance_Euclid
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: distance,
				},
			},
		},
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("qdrant create collection: %w", err)
	}
	return q, nil
}

func (q *Qdrant) Insert(ctx context.Context, id string, vector []float32) error {
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points: []*pb.PointStruct{{
			Id:      pointID(id),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
			Payload: map[string]*pb.Value{
				"chunk_id": {Kind: &pb.Value_StringValue{StringValue: id}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	q.size.Add(1)
	return nil
}

func (q *Qdrant) Query(ctx context.Context, vector []float32, k int) ([]Entry, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	entries := make([]Entry, 0, len(resp.Result))
	for _, pt := range resp.Result {
		id := ""
		if v, ok := pt.Payload["chunk_id"]; ok {
			id = v.GetStringValue()
		}
		entries = append(entries, Entry{ID: id, Score: pt.Score})
	}
	return entries, nil
}

func (q *Qdrant) Remove(ctx context.Context, id string) error {
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	q.size.Add(-1)
	return nil
}

// Size reports entries inserted through this handle. The collection is
// owned by exactly one session, so no other writer exists.
func (q *Qdrant) Size() int {
	return int(q.size.Load())
}

func (q *Qdrant) Close() error {
	_, err := q.collections.Delete(context.Background(), &pb.DeleteCollection{CollectionName: q.collection})
	if cerr := q.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// PingQdrant checks that a Qdrant instance answers on host:port.
func PingQdrant(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer conn.Close()
	if _, err := pb.NewQdrantClient(conn).HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// pointID derives a stable UUID-shaped point ID from a chunk ID, since
// Qdrant only accepts UUIDs or integers as point identifiers.
func pointID(chunkID string) *pb.PointId {
	sum := sha256.Sum256([]byte(chunkID))
	b := sum[:16]
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80

	var out [36]byte
	hex.Encode(out[0:8], b[0:4])
	out[8] = '-'
	hex.Encode(out[9:13], b[4:6])
	out[13] = '-'
	hex.Encode(out[14:18], b[6:8])
	out[18] = '-'
	hex.Encode(out[19:23], b[8:10])
	out[23] = '-'
	hex.Encode(out[24:36], b[10:16])
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: string(out[:])}}
}
