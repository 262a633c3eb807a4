package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/trajectory.report/internal/sampling"
	"github.com/banshee-data/trajectory.report/internal/tracking"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

// Client is a typed TrackingService client.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	req, err := toStruct(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, resp, opts...); err != nil {
		return err
	}
	if err := fromStruct(resp, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func (c *Client) Ingest(ctx context.Context, req tracking.Request, opts ...grpc.CallOption) (tracking.Result, error) {
	var out tracking.Result
	err := c.invoke(ctx, "Ingest", req, &out, opts...)
	return out, err
}

func (c *Client) IngestBatch(ctx context.Context, reqs []tracking.Request, opts ...grpc.CallOption) (BatchResponse, error) {
	var out BatchResponse
	err := c.invoke(ctx, "IngestBatch", BatchRequest{Requests: reqs}, &out, opts...)
	return out, err
}

func (c *Client) Recommend(ctx context.Context, in sampling.Input, opts ...grpc.CallOption) (sampling.TrackingConfig, error) {
	var out sampling.TrackingConfig
	err := c.invoke(ctx, "Recommend", in, &out, opts...)
	return out, err
}

func (c *Client) Recommendations(ctx context.Context, req RecommendationsRequest, opts ...grpc.CallOption) (tracking.Recommendation, error) {
	var out tracking.Recommendation
	err := c.invoke(ctx, "Recommendations", req, &out, opts...)
	return out, err
}

func (c *Client) EvaluateGeofences(ctx context.Context, s trajectory.Sample, opts ...grpc.CallOption) (EvaluateResponse, error) {
	var out EvaluateResponse
	err := c.invoke(ctx, "EvaluateGeofences", s, &out, opts...)
	return out, err
}

func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (tracking.Stats, error) {
	var out tracking.Stats
	err := c.invoke(ctx, "Stats", struct{}{}, &out, opts...)
	return out, err
}

// IngestStream sends reqs over one client stream and returns the totals.
func (c *Client) IngestStream(ctx context.Context, reqs []tracking.Request, opts ...grpc.CallOption) (StreamSummary, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("IngestStream"), opts...)
	if err != nil {
		return StreamSummary{}, err
	}
	for _, r := range reqs {
		msg, err := toStruct(r)
		if err != nil {
			return StreamSummary{}, fmt.Errorf("encode stream request: %w", err)
		}
		if err := stream.SendMsg(msg); err != nil {
			return StreamSummary{}, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return StreamSummary{}, err
	}
	resp := new(structpb.Struct)
	if err := stream.RecvMsg(resp); err != nil {
		return StreamSummary{}, err
	}
	var out StreamSummary
	if err := fromStruct(resp, &out); err != nil {
		return StreamSummary{}, fmt.Errorf("decode stream summary: %w", err)
	}
	return out, nil
}
