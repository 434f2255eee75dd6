package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"dagrecovery/api/grpcserver"
	pb "dagrecovery/api/pb"
	"dagrecovery/config"
	"dagrecovery/domain/history"
	"dagrecovery/infra/kafka"
	"dagrecovery/infra/outbox"
	"dagrecovery/infra/telemetry"
	"dagrecovery/infra/wal"
	"dagrecovery/jobs/broadcaster"
	"dagrecovery/service"
)

const shutdownGrace = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.New(nil)
	if err != nil {
		return err
	}
	opts := service.Options{
		Registry:     history.DefaultRegistry(),
		Logger:       log,
		Metrics:      metrics,
		TailInterval: cfg.TailInterval,
	}

	// ---------------- Recovery ----------------

	rec, err := service.RecoverLog(ctx, cfg.LogPath, opts)
	if err != nil {
		return err
	}

	// ---------------- Export outbox ----------------

	var (
		ob       *outbox.Outbox
		observer wal.Observer
	)
	if cfg.ExportEnabled() {
		ob, err = outbox.Open(cfg.OutboxDir, outbox.Options{MaxRetries: cfg.MaxRetries, Logger: log})
		if err != nil {
			return err
		}
		defer ob.Close()

		if _, err := service.Backfill(ctx, cfg.LogPath, opts.Registry, ob, log); err != nil {
			return err
		}
		observer = service.NewExporter(ob, log)
	}

	// ---------------- Writer ----------------

	w, err := wal.Open(wal.Config{
		Path:     cfg.LogPath,
		NoSync:   cfg.NoSync,
		Repair:   cfg.Repair,
		Logger:   log,
		Observer: observer,
	})
	if err != nil {
		return err
	}
	if r := w.Recovery(); r.Truncated {
		log.Warn("damaged log tail removed", "offset", r.DroppedFrom, "bytes", r.Dropped, "cause", r.Cause)
	}

	svc, err := service.New(w, rec, opts)
	if err != nil {
		_ = w.Close()
		return err
	}
	defer svc.Close()

	// ---------------- Background Jobs ----------------

	if ob != nil {
		pub, err := newPublisher(cfg)
		if err != nil {
			return err
		}
		bc := broadcaster.New(ob, pub, broadcaster.Config{
			Interval:   cfg.ExportInterval,
			PruneEvery: 100,
			Logger:     log,
			Metrics:    metrics,
		})
		defer bc.Close()
		go func() {
			if err := bc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("broadcaster stopped", "err", err)
			}
		}()
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	grpcSrv := grpc.NewServer()
	pb.RegisterHistoryServiceServer(grpcSrv, grpcserver.NewServer(svc, log))

	go func() {
		<-ctx.Done()
		// Open Tail streams only end with their clients.
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			grpcSrv.Stop()
		}
	}()

	log.Info("dag history server running", "addr", cfg.GRPCAddr, "log", cfg.LogPath, "last_seq", svc.LastSeq())
	return grpcSrv.Serve(lis)
}

func newPublisher(cfg config.Config) (broadcaster.Publisher, error) {
	if cfg.KafkaClient == config.KafkaClientKafkaGo {
		return kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	}
	return broadcaster.NewSaramaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}
