// Package grpcserver implements the PipelineService gRPC server.
//
// It delegates all business logic to kanban.Service and handles only the
// gRPC transport concerns: error mapping and conversion between the domain
// model and structpb messages. The service descriptor is declared here
// rather than generated, so the wire messages are google.protobuf.Struct.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/pipeline-service/internal/kanban"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/repository"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jobmate.pipeline.v1.PipelineService"

// PipelineServiceServer is the server API for PipelineService.
type PipelineServiceServer interface {
	ListJobs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MoveJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements PipelineServiceServer.
type Server struct {
	svc *kanban.Service
}

// NewServer constructs a gRPC Server backed by the given kanban.Service.
func NewServer(svc *kanban.Service) *Server {
	return &Server{svc: svc}
}

// New returns a grpc.Server with PipelineService and the standard health
// service registered, logging each call through logger.
func New(svc *kanban.Service, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	Register(gs, NewServer(svc))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

// Register adds srv to gs.
func Register(gs grpc.ServiceRegistrar, srv PipelineServiceServer) {
	gs.RegisterService(&serviceDesc, srv)
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// ListJobs returns jobs filtered by the optional "status" and "min_score"
// fields.
func (s *Server) ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	var st model.Status
	if v, ok := fields["status"]; ok && v.GetStringValue() != "" {
		parsed, err := model.ParseStatus(v.GetStringValue())
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		st = parsed
	}

	var minScore *int
	if v, ok := fields["min_score"]; ok {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue < 0 || n.NumberValue > 100 {
			return nil, status.Error(codes.InvalidArgument, "min_score must be a number between 0 and 100")
		}
		m := int(n.NumberValue)
		minScore = &m
	}

	jobs, err := s.svc.Jobs(ctx, st, minScore)
	if err != nil {
		return nil, toGRPCError(err)
	}

	list := make([]any, 0, len(jobs))
	for i := range jobs {
		list = append(list, jobToMap(&jobs[i]))
	}
	return newStruct(map[string]any{"jobs": list})
}

// MoveJob transitions a job to the "to" status, recording the optional
// "note".
func (s *Server) MoveJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	id, ok := fields["id"].GetKind().(*structpb.Value_NumberValue)
	if !ok || id.NumberValue < 1 {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	to, err := model.ParseStatus(fields["to"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	job, err := s.svc.Transition(ctx, int64(id.NumberValue), to, fields["note"].GetStringValue())
	if err != nil {
		return nil, toGRPCError(err)
	}
	return newStruct(jobToMap(job))
}

// GetStats returns the store summary.
func (s *Server) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.svc.Stats(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return newStruct(statsToMap(st))
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	var ve *kanban.ValidationError
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Msg)
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, kanban.ErrFollowupNotApplied):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// jobToMap converts a job to structpb-compatible values. Optional fields
// are null when unset.
func jobToMap(j *model.JobRecord) map[string]any {
	m := map[string]any{
		"id":               j.ID,
		"title":            j.Title,
		"company":          j.Company,
		"location":         j.Location,
		"url":              j.SourceURL,
		"source":           string(j.Source),
		"status":           string(j.Status),
		"score":            nil,
		"matched_skills":   anySlice(j.MatchedSkills),
		"recommendation":   j.Recommendation,
		"followup_count":   j.FollowupCount,
		"scraped_at":       j.ScrapedAt.UTC().Format(time.RFC3339),
		"updated_at":       j.UpdatedAt.UTC().Format(time.RFC3339),
		"applied_at":       timestamp(j.AppliedAt),
		"analyzed_at":      timestamp(j.AnalyzedAt),
		"has_cover_letter": j.CoverLetter != nil,
	}
	if j.Score != nil {
		m["score"] = *j.Score
	}
	return m
}

func statsToMap(s repository.Stats) map[string]any {
	byStatus := make(map[string]any, len(s.ByStatus))
	for k, v := range s.ByStatus {
		byStatus[string(k)] = v
	}
	return map[string]any{
		"total":           s.Total,
		"need_enrichment": s.NeedEnrichment,
		"enriched":        s.Enriched,
		"analyzed":        s.Analyzed,
		"need_analysis":   s.NeedAnalysis,
		"high_matches":    s.HighMatches,
		"medium_matches":  s.MediumMatches,
		"low_matches":     s.LowMatches,
		"by_status":       byStatus,

		"total_applications": s.TotalApplications,
		"total_interviews":   s.TotalInterviews,
		"average_ai_score":   s.AverageScore,
		"response_rate":      s.ResponseRate,
	}
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func timestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if code == codes.Internal || code == codes.Unknown {
			logger.Error("grpc call failed", "method", info.FullMethod, "err", err)
		} else {
			logger.Debug("grpc call", "method", info.FullMethod, "code", code.String(), "took", time.Since(start))
		}
		return resp, err
	}
}
