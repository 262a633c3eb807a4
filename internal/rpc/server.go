package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/trajectory.report/internal/geofence"
	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/sampling"
	"github.com/banshee-data/trajectory.report/internal/tracking"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

const maxMsgSize = 16 * 1024 * 1024

var _ TrackingServer = (*Server)(nil)

// Server implements TrackingServer on top of a tracking.Service.
type Server struct {
	svc    *tracking.Service
	logger *log.Logger
}

// NewServer returns a Server. A nil logger uses the "rpc" component logger.
func NewServer(svc *tracking.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = monitoring.ComponentLogger("rpc")
	}
	return &Server{svc: svc, logger: logger}
}

// Register adds the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Serve runs a gRPC server on lis until ctx is cancelled, then stops it
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	s.Register(gs)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			gs.GracefulStop()
		case <-done:
		}
	}()

	s.logger.Printf("gRPC server listening on %s", lis.Addr())
	if err := gs.Serve(lis); err != nil && ctx.Err() == nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// statusError maps service errors onto gRPC codes.
func statusError(err error) error {
	switch {
	case errors.Is(err, trajectory.ErrInvalidCoordinates),
		errors.Is(err, trajectory.ErrMissingDevice),
		errors.Is(err, geofence.ErrInvalidGeofence),
		errors.Is(err, sampling.ErrUnknownPlan):
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case errors.Is(err, tracking.ErrUnknownDevice),
		errors.Is(err, tracking.ErrNoSamples):
		return status.Errorf(codes.NotFound, "%v", err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%v", err)
	}
	return status.Errorf(codes.Internal, "%v", err)
}

func decode(in *structpb.Struct, v any) error {
	if err := fromStruct(in, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// BatchRequest is the IngestBatch payload.
type BatchRequest struct {
	Requests []tracking.Request `json:"requests"`
}

// BatchResult is one IngestBatch outcome, with the per-sample error as text.
type BatchResult struct {
	tracking.Result
	Error string `json:"error,omitempty"`
}

// BatchResponse is the IngestBatch reply.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// RecommendationsRequest selects the device and plan for Recommendations.
type RecommendationsRequest struct {
	DeviceID string `json:"device_id"`
	Plan     string `json:"plan,omitempty"`
	tracking.DeviceHints
}

// EvaluateResponse is the EvaluateGeofences reply.
type EvaluateResponse struct {
	Events []geofence.Event `json:"events"`
}

// StreamSummary is the IngestStream reply.
type StreamSummary struct {
	Received int `json:"received"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Invalid  int `json:"invalid"`
	Events   int `json:"events"`
}

func (s *Server) Ingest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req tracking.Request
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := s.svc.Ingest(ctx, req)
	if err != nil {
		return nil, statusError(err)
	}
	return encode(res)
}

func (s *Server) IngestBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BatchRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	results, err := s.svc.IngestBatch(ctx, req.Requests)
	if err != nil {
		return nil, statusError(err)
	}
	out := BatchResponse{Results: make([]BatchResult, len(results))}
	for i, r := range results {
		out.Results[i] = BatchResult{Result: r}
		if r.Err != nil {
			out.Results[i].Error = r.Err.Error()
		}
	}
	return encode(out)
}

func (s *Server) Recommend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sampling.Input
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	return encode(s.svc.Recommend(req))
}

func (s *Server) Recommendations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RecommendationsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	rec, err := s.svc.Recommendations(req.DeviceID, req.Plan, req.DeviceHints)
	if err != nil {
		return nil, statusError(err)
	}
	return encode(rec)
}

func (s *Server) EvaluateGeofences(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var sample trajectory.Sample
	if err := decode(in, &sample); err != nil {
		return nil, err
	}
	events, err := s.svc.EvaluateGeofences(ctx, sample)
	if err != nil {
		return nil, statusError(err)
	}
	if events == nil {
		events = []geofence.Event{}
	}
	return encode(EvaluateResponse{Events: events})
}

func (s *Server) Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encode(s.svc.Stats())
}

func (s *Server) IngestStream(stream grpc.ServerStream) error {
	ctx := stream.Context()
	var sum StreamSummary
	for {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		sum.Received++

		var req tracking.Request
		if err := decode(in, &req); err != nil {
			sum.Invalid++
			continue
		}
		res, err := s.svc.Ingest(ctx, req)
		switch {
		case err != nil:
			sum.Invalid++
		case res.Decision.Accept:
			sum.Accepted++
			sum.Events += len(res.Events)
		default:
			sum.Rejected++
		}
	}
	if sum.Invalid > 0 {
		s.logger.Printf("ingest stream: %d of %d requests invalid", sum.Invalid, sum.Received)
	}
	out, err := encode(sum)
	if err != nil {
		return err
	}
	return stream.SendMsg(out)
}
