package vectorstore

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fabfab/docqa-agent/index"
)

const qdrantUpsertBatch = 256

// Qdrant keeps each generation in its own collection named
// "<prefix>_g<generation>", removed when the generation is retired.
type Qdrant struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	prefix      string
	logger      *log.Logger
}

func NewQdrant(host string, port int, prefix string, logger *log.Logger) (*Qdrant, error) {
	if logger == nil {
		logger = log.Default()
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return newQdrant(conn, pb.NewCollectionsClient(conn), pb.NewPointsClient(conn), prefix, logger), nil
}

func newQdrant(conn *grpc.ClientConn, collections pb.CollectionsClient, points pb.PointsClient, prefix string, logger *log.Logger) *Qdrant {
	if prefix == "" {
		prefix = "docqa_chunks"
	}
	return &Qdrant{conn: conn, collections: collections, points: points, prefix: prefix, logger: logger}
}

func (*Qdrant) Name() string { return "qdrant" }

func (q *Qdrant) collectionName(generation uint64) string {
	return fmt.Sprintf("%s_g%d", q.prefix, generation)
}

func (q *Qdrant) Build(ctx context.Context, generation uint64, vectors [][]float32) (_ index.Searcher, err error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to store")
	}
	name := q.collectionName(generation)
	dimension := len(vectors[0])

	// A collection with this name can only be left over from an earlier run.
	if _, delErr := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); delErr != nil {
		q.logger.Debug("qdrant stale collection delete", "collection", name, "err", delErr)
	}

	if _, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dimension), Distance: pb.Distance_Cosine},
		}},
	}); err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}

	searcher := &qdrantSearcher{points: q.points, collections: q.collections, collection: name, dimension: dimension}
	defer func() {
		if err != nil {
			if closeErr := searcher.Close(context.WithoutCancel(ctx)); closeErr != nil {
				q.logger.Warn("drop partial collection", "collection", name, "err", closeErr)
			}
		}
	}()

	wait := true
	for start := 0; start < len(vectors); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(vectors))
		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			if len(vectors[i]) != dimension {
				return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(vectors[i]), dimension)
			}
			points = append(points, &pb.PointStruct{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(i)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors[i]}}},
			})
		}
		if _, err = q.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: name,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return nil, fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
	}

	return searcher, nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

type qdrantSearcher struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimension   int
}

func (s *qdrantSearcher) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), s.dimension)
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.collection, err)
	}

	hits := make([]index.Hit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		hits = append(hits, index.Hit{
			Position: int(pt.GetId().GetNum()),
			Score:    float64(pt.GetScore()),
		})
	}
	sortHits(hits)
	return hits, nil
}

func (s *qdrantSearcher) Close(ctx context.Context) error {
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.collection, err)
	}
	return nil
}

var _ index.Backend = (*Qdrant)(nil)
