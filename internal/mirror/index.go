// Package mirror projects the current version of objects carrying a
// configured embedding field into an external Qdrant collection, so
// downstream consumers that need ANN-scale search have a crash-tolerant
// projection to query against. It never participates in core durability or
// query semantics (internal/engine's query stays brute-force cosine); a
// restart that loses unflushed mirror entries only costs eventual re-sync.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Config holds the settings for connecting to and maintaining the mirrored
// Qdrant collection. An empty URL means the mirror is disabled.
type Config struct {
	URL          string
	APIKey       string
	Collection   string
	VectorField  string
	Dims         int
	PollInterval time.Duration
	BatchSize    int
}

// Point is the data needed to upsert a single object version into Qdrant.
type Point struct {
	Ns        string
	ID        string
	Type      string
	TsUnix    int64
	Embedding []float32
}

// pointID derives a stable UUID from (ns,id), since Qdrant point ids are
// restricted to an unsigned integer or a UUID and object ids are neither.
func pointID(ns, id string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(ns+"/"+id))
}

// Index implements the Qdrant-backed side of the mirror: collection setup
// and point upsert/delete.
type Index struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("mirror: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("mirror: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewIndex connects to the Qdrant server via gRPC.
func NewIndex(cfg Config, logger *slog.Logger) (*Index, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &Index{
		client:     client,
		collection: cfg.Collection,
		dims:       uint64(cfg.Dims),
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist, with
// HNSW parameters tuned for cosine similarity, plus keyword payload indexes
// on ns/type for filtered lookups.
func (idx *Index) EnsureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("mirror: check collection exists: %w", err)
	}
	if exists {
		idx.logger.Info("mirror: collection already exists", "collection", idx.collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     idx.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("mirror: create collection %q: %w", idx.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"ns", "type"} {
		if _, err := idx.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: idx.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("mirror: create index on %q: %w", field, err)
		}
	}

	idx.logger.Info("mirror: created collection with payload indexes", "collection", idx.collection, "dims", idx.dims)
	return nil
}

// Upsert inserts or updates points in Qdrant.
func (idx *Index) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{
			"ns":      p.Ns,
			"id":      p.ID,
			"type":    p.Type,
			"ts_unix": float64(p.TsUnix),
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(p.Ns, p.ID).String()),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("mirror: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// key identifies an object version for deletion from the mirror.
type key struct{ Ns, ID string }

// DeleteByKeys removes specific points from Qdrant by (ns,id).
func (idx *Index) DeleteByKeys(ctx context.Context, keys []key) error {
	if len(keys) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(keys))
	for i, k := range keys {
		pointIDs[i] = qdrant.NewID(pointID(k.Ns, k.ID).String())
	}

	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("mirror: qdrant delete %d points: %w", len(keys), err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds to avoid hammering the health endpoint on every poll tick.
func (idx *Index) Healthy(ctx context.Context) error {
	idx.healthMu.Lock()
	defer idx.healthMu.Unlock()

	if time.Since(idx.lastCheck) < 5*time.Second {
		return idx.lastErr
	}

	_, err := idx.client.HealthCheck(ctx)
	idx.lastCheck = time.Now()
	if err != nil {
		idx.lastErr = fmt.Errorf("mirror: qdrant unhealthy: %w", err)
	} else {
		idx.lastErr = nil
	}
	return idx.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (idx *Index) Close() error {
	return idx.client.Close()
}
