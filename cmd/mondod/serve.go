package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dot-do/mondodb/internal/backend/embedded"
	"github.com/dot-do/mondodb/internal/backend/proxy"
	"github.com/dot-do/mondodb/internal/mapper"
	"github.com/dot-do/mondodb/internal/router"
	"github.com/dot-do/mondodb/internal/wire"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runServe(v *viper.Viper) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	oltp, err := embedded.New(v.GetString("data-dir"), log)
	if err != nil {
		return err
	}

	var olapBackend *proxy.Backend
	if endpoint := v.GetString("olap-endpoint"); endpoint != "" {
		cfg := proxy.Config{
			Endpoint:    endpoint,
			Token:       v.GetString("olap-token"),
			Timeout:     v.GetDuration("call-timeout"),
			RetryCount:  v.GetInt("retry-count"),
			RetryDelay:  v.GetDuration("retry-delay"),
			MapperOpts:  mapper.Options{PreserveObjectID: true, TreatTimestampAsDate: true},
		}
		olapBackend, err = proxy.New(cfg, log)
		if err != nil {
			return err
		}
	}

	routerCfg := router.DefaultConfig()
	routerCfg.RowThreshold = v.GetInt64("row-threshold")
	routerCfg.AutoRoute = v.GetBool("auto-route")
	routerCfg.PreferOLAPForAggregations = v.GetBool("prefer-olap-aggregations")

	var r *router.Router
	if olapBackend != nil {
		r = router.New(oltp, olapBackend, routerCfg)
	} else {
		r = router.New(oltp, nil, routerCfg)
	}

	srv := &wire.Server{Backend: r, Log: log, DefaultBatchSize: 101}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", v.GetString("listen-addr"))
	if err != nil {
		return err
	}
	log.Info("listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweepCursors(gctx, r, time.Duration(v.GetInt("cursor-sweep-interval-seconds"))*time.Second, log)
	})

	g.Go(func() error {
		return acceptLoop(gctx, ln, srv, log)
	})

	go func() {
		<-gctx.Done()
		ln.Close()
	}()

	return g.Wait()
}

// acceptLoop accepts connections and hands each to a bounded worker pool
// of four times GOMAXPROCS, one connection per goroutine within that pool.
func acceptLoop(ctx context.Context, ln net.Listener, srv *wire.Server, log *zap.Logger) error {
	sem := make(chan struct{}, runtime.GOMAXPROCS(0)*4)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			handleConn(ctx, conn, srv, log)
		}()
	}
}

func handleConn(ctx context.Context, conn net.Conn, srv *wire.Server, log *zap.Logger) {
	defer conn.Close()
	var replyID int32
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		reply := srv.Handle(ctx, frame)
		replyID++
		if frame.Header.OpCode == 2004 {
			if err := wire.WriteOpReplyLegacy(conn, frame.Header.RequestID, replyID, reply); err != nil {
				return
			}
			continue
		}
		if err := wire.WriteOpMsgReply(conn, frame.Header.RequestID, replyID, reply); err != nil {
			return
		}
	}
}

// sweepCursors runs CleanupExpiredCursors once per interval, per spec.md §5.
func sweepCursors(ctx context.Context, r *router.Router, interval time.Duration, log *zap.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n := r.CleanupExpiredCursors(ctx)
			if n > 0 {
				log.Debug("swept expired cursors", zap.Int("count", n))
			}
		}
	}
}
