// Package qdrant adapts the Qdrant gRPC API to memory.VectorStore.
package qdrant

import (
	"context"
	"fmt"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/memory"
)

// Store talks to Qdrant over gRPC.
type Store struct {
	conn        *grpc.ClientConn
	client      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to the Qdrant gRPC endpoint at addr (host:port).
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		client:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates a cosine collection of vectorSize unless it exists.
func (s *Store) EnsureCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert writes one point per memory entry.
func (s *Store) Upsert(ctx context.Context, collection string, points []memory.Point) error {
	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		qPoints[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.Entry.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payloadFromEntry(p.Entry),
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the memories nearest to vector.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, minScore float32) ([]memory.Match, error) {
	resp, err := s.client.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &minScore,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	matches := make([]memory.Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		matches[i] = memory.Match{
			Entry: entryFromPayload(pointID(r.GetId()), r.GetPayload()),
			Score: r.GetScore(),
		}
	}
	return matches, nil
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// Payload keys of a memory point.
const (
	keyText      = "text"
	keyRole      = "role"
	keyUserID    = "user_id"
	keyCreatedAt = "created_at"
)

func payloadFromEntry(e memory.Entry) map[string]*pb.Value {
	str := func(v string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}} }
	return map[string]*pb.Value{
		keyText:      str(e.Text),
		keyRole:      str(string(e.Role)),
		keyUserID:    str(e.UserID),
		keyCreatedAt: {Kind: &pb.Value_IntegerValue{IntegerValue: e.CreatedAt.Unix()}},
	}
}

// entryFromPayload rebuilds an entry. Missing keys leave zero values.
func entryFromPayload(id string, payload map[string]*pb.Value) memory.Entry {
	e := memory.Entry{
		ID:     id,
		Text:   payload[keyText].GetStringValue(),
		Role:   core.Role(payload[keyRole].GetStringValue()),
		UserID: payload[keyUserID].GetStringValue(),
	}
	if ts := payload[keyCreatedAt].GetIntegerValue(); ts > 0 {
		e.CreatedAt = time.Unix(ts, 0)
	}
	return e
}
