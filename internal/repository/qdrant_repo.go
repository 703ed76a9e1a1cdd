package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 1024
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository handles vector operations with Qdrant
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository creates a new QdrantRepository
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption

	// TLS is enabled if: APIKey is set OR UseTLS is explicitly true
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		creds := credentials.NewTLS(tlsConfig)
		opts = append(opts, grpc.WithTransportCredentials(creds))

		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil // Collection exists
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}

	config := info.GetConfig()
	if config == nil {
		return 0, false
	}

	params := config.GetParams()
	if params == nil {
		return 0, false
	}

	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}

	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}

	return 0, false
}

// PhotoPayload represents the payload stored with each photo embedding
type PhotoPayload struct {
	PhotoID       string   `json:"photo_id"`
	OwnerID       string   `json:"owner_id"`
	SceneCategory string   `json:"scene_category"`
	HasText       bool     `json:"has_text"`
	HasFaces      bool     `json:"has_faces"`
	Tags          []string `json:"tags"`
	TakenAtUnix   int64    `json:"taken_at_unix"`
}

// Upsert inserts or updates a vector with payload
func (r *QdrantRepository) Upsert(ctx context.Context, pointID string, vector []float32, payload *PhotoPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: uid.String(),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{
						Data: vector,
					},
				},
			},
			Payload: map[string]*pb.Value{
				"photo_id":       {Kind: &pb.Value_StringValue{StringValue: payload.PhotoID}},
				"owner_id":       {Kind: &pb.Value_StringValue{StringValue: payload.OwnerID}},
				"scene_category": {Kind: &pb.Value_StringValue{StringValue: payload.SceneCategory}},
				"has_text":       {Kind: &pb.Value_BoolValue{BoolValue: payload.HasText}},
				"has_faces":      {Kind: &pb.Value_BoolValue{BoolValue: payload.HasFaces}},
				"taken_at_unix":  {Kind: &pb.Value_IntegerValue{IntegerValue: payload.TakenAtUnix}},
				"tags":           tagsToValue(payload.Tags),
			},
		},
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

func tagsToValue(tags []string) *pb.Value {
	values := make([]*pb.Value, len(tags))
	for i, tag := range tags {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tag}}
	}
	return &pb.Value{
		Kind: &pb.Value_ListValue{
			ListValue: &pb.ListValue{Values: values},
		},
	}
}

// VectorSearchResult represents a scored point returned from Qdrant
type VectorSearchResult struct {
	ID      string
	Score   float32
	Payload *PhotoPayload
}

// VectorFilters defines optional structural filters applied inside Qdrant
// so the similarity search never surfaces out-of-scope photos.
type VectorFilters struct {
	OwnerID       string
	SceneCategory string
	HasText       *bool
	HasFaces      *bool
	TakenAfter    *time.Time
	TakenBefore   *time.Time
}

// Search performs a vector similarity search
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, topK int, filters *VectorFilters) ([]VectorSearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	if filters != nil {
		req.Filter = buildFilter(filters)
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]VectorSearchResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = VectorSearchResult{
			ID:      scored.Id.GetUuid(),
			Score:   scored.Score,
			Payload: parsePayload(scored.Payload),
		}
	}

	return results, nil
}

func buildFilter(filters *VectorFilters) *pb.Filter {
	var conditions []*pb.Condition

	if filters.OwnerID != "" {
		conditions = append(conditions, keywordCondition("owner_id", filters.OwnerID))
	}

	if filters.SceneCategory != "" {
		conditions = append(conditions, keywordCondition("scene_category", filters.SceneCategory))
	}

	if filters.HasText != nil {
		conditions = append(conditions, boolCondition("has_text", *filters.HasText))
	}

	if filters.HasFaces != nil {
		conditions = append(conditions, boolCondition("has_faces", *filters.HasFaces))
	}

	if filters.TakenAfter != nil || filters.TakenBefore != nil {
		rng := &pb.Range{}
		if filters.TakenAfter != nil {
			gte := float64(filters.TakenAfter.Unix())
			rng.Gte = &gte
		}
		if filters.TakenBefore != nil {
			lt := float64(filters.TakenBefore.Unix())
			rng.Lt = &lt
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   "taken_at_unix",
					Range: rng,
				},
			},
		})
	}

	if len(conditions) == 0 {
		return nil
	}

	return &pb.Filter{
		Must: conditions,
	}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func boolCondition(key string, value bool) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Boolean{Boolean: value},
				},
			},
		},
	}
}

func parsePayload(payload map[string]*pb.Value) *PhotoPayload {
	if payload == nil {
		return nil
	}

	p := &PhotoPayload{}
	if v, ok := payload["photo_id"]; ok {
		p.PhotoID = v.GetStringValue()
	}
	if v, ok := payload["owner_id"]; ok {
		p.OwnerID = v.GetStringValue()
	}
	if v, ok := payload["scene_category"]; ok {
		p.SceneCategory = v.GetStringValue()
	}
	if v, ok := payload["has_text"]; ok {
		p.HasText = v.GetBoolValue()
	}
	if v, ok := payload["has_faces"]; ok {
		p.HasFaces = v.GetBoolValue()
	}
	if v, ok := payload["taken_at_unix"]; ok {
		p.TakenAtUnix = v.GetIntegerValue()
	}
	if v, ok := payload["tags"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				p.Tags = append(p.Tags, item.GetStringValue())
			}
		}
	}

	return p
}

// Delete deletes a point by ID
func (r *QdrantRepository) Delete(ctx context.Context, pointID string) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	_, err = r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}

	return nil
}
