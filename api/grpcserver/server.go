package grpcserver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	pb "dagrecovery/api/pb"
	"dagrecovery/domain/reconstruct"
	"dagrecovery/infra/wal"
	"dagrecovery/service"
)

// Server adapts HistoryService to gRPC.
type Server struct {
	pb.UnimplementedHistoryServiceServer
	svc *service.HistoryService
	log *slog.Logger
}

func NewServer(svc *service.HistoryService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, log: log.With("component", "grpc")}
}

// -------------------- Queries --------------------

func (s *Server) Recover(
	ctx context.Context,
	_ *emptypb.Empty,
) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(recoveryFields(s.svc))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode recovery: %v", err)
	}
	s.log.Debug("Recover", "entities", s.svc.Table().Len(), "last_seq", s.svc.LastSeq())
	return msg, nil
}

func (s *Server) Tail(
	_ *emptypb.Empty,
	stream grpc.ServerStreamingServer[structpb.Struct],
) error {
	ctx := stream.Context()
	s.log.Info("Tail started")

	err := s.svc.Tail(ctx, func(r wal.Record) error {
		msg, err := structpb.NewStruct(recordFields(r))
		if err != nil {
			return status.Errorf(codes.Internal, "encode record %d: %v", r.Seq, err)
		}
		return stream.Send(msg)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Info("Tail ended", "reason", err)
		return status.FromContextError(err).Err()
	case errors.Is(err, wal.ErrCorruptLog):
		s.log.Error("Tail stopped at corrupt frame", "err", err)
		return status.Error(codes.DataLoss, err.Error())
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Internal, err.Error())
	}
}

// -------------------- Converters --------------------

func recoveryFields(svc *service.HistoryService) map[string]any {
	table := svc.Table()

	counts := map[string]any{}
	for phase, n := range table.Counts() {
		counts[phase.String()] = n
	}

	entities := make([]any, 0, table.Len())
	for _, st := range table.Entities() {
		entities = append(entities, entityFields(st))
	}

	rec := svc.Recovery()
	warnings := make([]any, 0, len(rec.Warnings))
	for _, w := range rec.Warnings {
		warnings = append(warnings, w.String())
	}

	return map[string]any{
		"lastSeq":  svc.LastSeq(),
		"halted":   svc.Halted(),
		"counts":   counts,
		"warnings": warnings,
		"entities": entities,
	}
}

func entityFields(st reconstruct.EntityState) map[string]any {
	f := map[string]any{
		"id":        st.ID.String(),
		"kind":      st.Kind.String(),
		"phase":     st.Phase.String(),
		"vertex":    st.VertexName,
		"anomalies": st.Anomalies.String(),
	}
	if st.Phase == reconstruct.Terminal {
		f["outcome"] = st.Outcome.String()
	}
	if v, ok := st.CreatedAt.Get(); ok {
		f["createdAt"] = v
	}
	if v, ok := st.StartedAt.Get(); ok {
		f["startedAt"] = v
	}
	if v, ok := st.FinishedAt.Get(); ok {
		f["finishedAt"] = v
	}
	if d, ok := st.Duration(); ok {
		f["durationMs"] = d
	}
	if v, ok := st.Diagnostics.Get(); ok {
		f["diagnostics"] = v
	}
	if v, ok := st.TerminationCause.Get(); ok {
		f["terminationCause"] = string(v)
	}
	if v, ok := st.ContainerID.Get(); ok {
		f["containerId"] = v
	}
	if v, ok := st.NodeID.Get(); ok {
		f["nodeId"] = v
	}
	if v, ok := st.SuccessfulAttempt.Get(); ok {
		f["successfulAttempt"] = v.String()
	}
	if st.FailedAttempts > 0 {
		f["failedAttempts"] = st.FailedAttempts
	}
	return f
}

func recordFields(r wal.Record) map[string]any {
	return map[string]any{
		"seq":     r.Seq,
		"offset":  r.Offset,
		"type":    r.Tag.String(),
		"entity":  r.Event.Entity().String(),
		"vertex":  r.Event.VertexName(),
		"summary": r.Event.String(),
	}
}
