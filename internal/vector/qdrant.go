package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

// chunkIDKey is the payload field holding the original chunk id; Qdrant only accepts
// unsigned integers and UUIDs as point ids.
const chunkIDKey = "chunk_id"

const defaultQdrantPort = 6334

// pointNamespace seeds the name-based UUIDs derived from chunk ids.
var pointNamespace = uuid.MustParse("6f0c3a52-8d3e-4c1b-9a57-1c2f4f0b7e10")

// PointUUID returns the Qdrant point id for a chunk id.
func PointUUID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// QdrantIndex talks to a Qdrant server over gRPC. Vectors use cosine distance.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewQdrantIndex connects to addr (for example http://localhost:6334) and makes sure the
// collection exists with the given dimension, creating it and a keyword index on
// document_id when missing.
func NewQdrantIndex(ctx context.Context, addr, apiKey, collection string, dimensions int, timeout time.Duration, opts ...Option) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	cfg, err := qdrantConfig(addr, apiKey)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to qdrant: %w", models.ErrVectorIndex, err)
	}
	o := applyOptions(opts)
	q := &QdrantIndex{
		client:     client,
		collection: collection,
		dimensions: dimensions,
		timeout:    timeout,
		logger:     o.logger,
	}
	if err := q.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

// qdrantConfig turns a URL or host:port into client settings. https selects TLS and a
// missing port means the gRPC default.
func qdrantConfig(addr, apiKey string) (*qdrant.Config, error) {
	if addr == "" {
		addr = "localhost"
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant address %q: %w", addr, err)
	}
	host, port := u.Hostname(), defaultQdrantPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid qdrant port %q", p)
		}
	}
	if host == "" {
		return nil, fmt.Errorf("invalid qdrant address %q: missing host", addr)
	}
	return &qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: u.Scheme == "https",
	}, nil
}

// Backend returns "qdrant".
func (q *QdrantIndex) Backend() string {
	return "qdrant"
}

// Dimensions returns the collection vector size.
func (q *QdrantIndex) Dimensions() int {
	return q.dimensions
}

func (q *QdrantIndex) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || q.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, q.timeout)
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to inspect qdrant collection: %w", classifyQdrant(err))
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("failed to inspect qdrant collection: %w", classifyQdrant(err))
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && int(size) != q.dimensions {
			return fmt.Errorf("%w: collection %s has dimension %d, embedder produces %d", models.ErrVectorIndex, q.collection, size, q.dimensions)
		}
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection: %w", classifyQdrant(err))
	}
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		FieldName:      models.PayloadDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant payload index: %w", classifyQdrant(err))
	}
	if q.logger != nil {
		q.logger.Info("created qdrant collection", zap.String("collection", q.collection), zap.Int("dimensions", q.dimensions))
	}
	return nil
}

// Upsert writes points and waits until they are searchable.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if err := checkDimensions(p.Vector, q.dimensions, "vector"); err != nil {
			return err
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointUUID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toQdrantPayload(p.ID, p.Payload),
		})
	}
	ctx, cancel := q.callCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	q.logCall("upsert", start, err)
	return classifyQdrant(err)
}

// Remove deletes points by chunk id.
func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pts := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pts[i] = qdrant.NewID(PointUUID(id))
	}
	ctx, cancel := q.callCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pts...),
	})
	q.logCall("delete", start, err)
	return classifyQdrant(err)
}

// Search runs a filtered nearest-neighbor query.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error) {
	if err := checkDimensions(query, q.dimensions, "query"); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	ctx, cancel := q.callCtx(ctx)
	defer cancel()
	start := time.Now()
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         qdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	q.logCall("query", start, err)
	if err != nil {
		return nil, classifyQdrant(err)
	}
	out := make([]*VectorResult, 0, len(hits))
	for _, h := range hits {
		id, payload := fromQdrantPayload(h.GetPayload())
		if id == "" {
			id = h.GetId().GetUuid()
		}
		out = append(out, &VectorResult{ID: id, Score: float64(h.GetScore()), Payload: payload})
	}
	return out, nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	return q.CountMatching(ctx, nil)
}

// CountMatching returns the exact number of points whose payload matches filter.
func (q *QdrantIndex) CountMatching(ctx context.Context, filter Filter) (int, error) {
	ctx, cancel := q.callCtx(ctx)
	defer cancel()
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         qdrantFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, classifyQdrant(err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func (q *QdrantIndex) logCall(op string, start time.Time, err error) {
	if q.logger == nil {
		return
	}
	q.logger.Debug("qdrant call",
		zap.String("op", op),
		zap.String("collection", q.collection),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
}

func qdrantFilter(f Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f))
	for k, v := range f {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func toQdrantPayload(chunkID string, payload map[string]string) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(payload)+1)
	for k, v := range payload {
		out[k] = qdrant.NewValueString(v)
	}
	out[chunkIDKey] = qdrant.NewValueString(chunkID)
	return out
}

// fromQdrantPayload splits the stored chunk id from the rest of the payload.
func fromQdrantPayload(payload map[string]*qdrant.Value) (string, map[string]string) {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = strconv.FormatInt(kind.IntegerValue, 10)
		case *qdrant.Value_DoubleValue:
			out[k] = strconv.FormatFloat(kind.DoubleValue, 'g', -1, 64)
		case *qdrant.Value_BoolValue:
			out[k] = strconv.FormatBool(kind.BoolValue)
		}
	}
	id := out[chunkIDKey]
	delete(out, chunkIDKey)
	return id, out
}

// classifyQdrant wraps err as a vector index error. Requests the server rejected will
// not succeed on retry.
func classifyQdrant(err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%w: %w", models.ErrVectorIndex, err)
	st, ok := status.FromError(err)
	if !ok {
		return wrapped
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.PermissionDenied,
		codes.Unauthenticated, codes.FailedPrecondition, codes.OutOfRange, codes.Unimplemented:
		return retry.Permanent(wrapped)
	}
	return wrapped
}
