package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/repovec/repovec/internal/vecstore"
)

// Client implements vecstore.Store against a Qdrant instance over gRPC.
type Client struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	logger      *slog.Logger
}

// New connects to Qdrant at addr (host:port).
func New(addr string, logger *slog.Logger) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Client{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		logger:      logger,
	}, nil
}

func (c *Client) EnsureCollection(ctx context.Context, collection string, denseDim int) error {
	existsResp, err := c.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: collection,
	})
	if err != nil {
		return fmt.Errorf("collection exists check: %w", err)
	}
	if existsResp.GetResult().GetExists() {
		return c.verifySchema(ctx, collection, denseDim)
	}

	c.logger.Info("creating collection", "collection", collection, "dimension", denseDim)
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{
					Map: map[string]*pb.VectorParams{
						vecstore.DenseVectorName: {
							Size:     uint64(denseDim),
							Distance: pb.Distance_Cosine,
						},
					},
				},
			},
		},
		SparseVectorsConfig: &pb.SparseVectorConfig{
			Map: map[string]*pb.SparseVectorParams{
				vecstore.SparseVectorName: {},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", collection, err)
	}
	return nil
}

// verifySchema checks that an existing collection carries the named vectors
// this version writes, with the expected dense dimension.
func (c *Client) verifySchema(ctx context.Context, collection string, denseDim int) error {
	info, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: collection,
	})
	if err != nil {
		return fmt.Errorf("get collection %q: %w", collection, err)
	}

	params := info.GetResult().GetConfig().GetParams()
	denseMap := params.GetVectorsConfig().GetParamsMap().GetMap()
	dense, ok := denseMap[vecstore.DenseVectorName]
	if !ok {
		return fmt.Errorf("%w: collection %q has no %q vector", vecstore.ErrSchemaMismatch, collection, vecstore.DenseVectorName)
	}
	if dense.GetSize() != uint64(denseDim) {
		return fmt.Errorf("%w: collection %q dense dimension is %d, want %d",
			vecstore.ErrSchemaMismatch, collection, dense.GetSize(), denseDim)
	}
	sparseMap := params.GetSparseVectorsConfig().GetMap()
	if _, ok := sparseMap[vecstore.SparseVectorName]; !ok {
		return fmt.Errorf("%w: collection %q has no %q vector", vecstore.ErrSchemaMismatch, collection, vecstore.SparseVectorName)
	}
	return nil
}

func (c *Client) DeleteCollection(ctx context.Context, collection string) error {
	_, err := c.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, collection string, points []vecstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		vectors := map[string]*pb.Vector{
			vecstore.DenseVectorName: {Data: p.Dense},
		}
		if len(p.SparseIndices) > 0 {
			vectors[vecstore.SparseVectorName] = &pb.Vector{
				Data:    p.SparseValues,
				Indices: &pb.SparseIndices{Data: p.SparseIndices},
			}
		}
		pbPoints[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vectors{Vectors: &pb.NamedVectors{Vectors: vectors}}},
			Payload: encodePayload(p.Payload),
		}
	}

	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         pbPoints,
		Wait:           pb.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func (c *Client) DeleteByFile(ctx context.Context, collection, filePath, branch string) error {
	filter := &pb.Filter{
		Must: []*pb.Condition{
			keywordCondition("file_path", filePath),
			keywordCondition("branch", branch),
		},
	}
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
		Wait: pb.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete points for %s@%s: %w", filePath, branch, err)
	}
	return nil
}

func (c *Client) Count(ctx context.Context, collection string) (uint64, error) {
	resp, err := c.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          pb.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func (c *Client) Query(ctx context.Context, collection string, plan vecstore.QueryPlan) ([]vecstore.ScoredPoint, error) {
	req := &pb.QueryPoints{
		CollectionName: collection,
		Limit:          pb.PtrOf(uint64(plan.Limit)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	filter := encodeFilter(plan.Filter)
	req.Filter = filter
	if plan.ScoreThreshold > 0 {
		req.ScoreThreshold = pb.PtrOf(plan.ScoreThreshold)
	}

	denseQuery := &pb.Query{
		Variant: &pb.Query_Nearest{
			Nearest: &pb.VectorInput{
				Variant: &pb.VectorInput_Dense{Dense: &pb.DenseVector{Data: plan.Dense}},
			},
		},
	}

	if len(plan.SparseIndices) > 0 {
		sparseQuery := &pb.Query{
			Variant: &pb.Query_Nearest{
				Nearest: &pb.VectorInput{
					Variant: &pb.VectorInput_Sparse{Sparse: &pb.SparseVector{
						Values:  plan.SparseValues,
						Indices: plan.SparseIndices,
					}},
				},
			},
		}
		req.Prefetch = []*pb.PrefetchQuery{
			{
				Query:  denseQuery,
				Using:  pb.PtrOf(vecstore.DenseVectorName),
				Limit:  pb.PtrOf(uint64(plan.DensePrefetchLimit)),
				Filter: filter,
			},
			{
				Query:  sparseQuery,
				Using:  pb.PtrOf(vecstore.SparseVectorName),
				Limit:  pb.PtrOf(uint64(plan.SparsePrefetchLimit)),
				Filter: filter,
			},
		}
		fusion := pb.Fusion_RRF
		if plan.Fusion == vecstore.FusionDBSF {
			fusion = pb.Fusion_DBSF
		}
		req.Query = &pb.Query{Variant: &pb.Query_Fusion{Fusion: fusion}}
	} else {
		req.Query = denseQuery
		req.Using = pb.PtrOf(vecstore.DenseVectorName)
	}

	resp, err := c.points.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	results := make([]vecstore.ScoredPoint, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		results[i] = vecstore.ScoredPoint{
			ID:      pt.GetId().GetNum(),
			Score:   pt.GetScore(),
			Payload: decodePayload(pt.GetPayload()),
		}
	}
	return results, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func keywordCondition(field, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   field,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func encodeFilter(f *vecstore.Filter) *pb.Filter {
	if f == nil {
		return nil
	}
	var must []*pb.Condition
	for field, value := range map[string]string{
		"file_path":    f.FilePath,
		"branch":       f.Branch,
		"language":     f.Language,
		"element_type": f.ElementType,
	} {
		if value != "" {
			must = append(must, keywordCondition(field, value))
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func encodePayload(p vecstore.Payload) map[string]*pb.Value {
	return map[string]*pb.Value{
		"file_path":      {Kind: &pb.Value_StringValue{StringValue: p.FilePath}},
		"start_line":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.StartLine)}},
		"end_line":       {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.EndLine)}},
		"language":       {Kind: &pb.Value_StringValue{StringValue: p.Language}},
		"file_extension": {Kind: &pb.Value_StringValue{StringValue: p.FileExtension}},
		"element_type":   {Kind: &pb.Value_StringValue{StringValue: p.ElementType}},
		"branch":         {Kind: &pb.Value_StringValue{StringValue: p.Branch}},
		"commit_hash":    {Kind: &pb.Value_StringValue{StringValue: p.CommitHash}},
		"content":        {Kind: &pb.Value_StringValue{StringValue: p.Content}},
	}
}

func decodePayload(values map[string]*pb.Value) vecstore.Payload {
	return vecstore.Payload{
		FilePath:      values["file_path"].GetStringValue(),
		StartLine:     int(values["start_line"].GetIntegerValue()),
		EndLine:       int(values["end_line"].GetIntegerValue()),
		Language:      values["language"].GetStringValue(),
		FileExtension: values["file_extension"].GetStringValue(),
		ElementType:   values["element_type"].GetStringValue(),
		Branch:        values["branch"].GetStringValue(),
		CommitHash:    values["commit_hash"].GetStringValue(),
		Content:       values["content"].GetStringValue(),
	}
}

var _ vecstore.Store = (*Client)(nil)
