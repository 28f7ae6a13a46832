package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/junsooki/airrelay/internal/broadcast"
	"github.com/junsooki/airrelay/internal/config"
	"github.com/junsooki/airrelay/internal/encoder"
	"github.com/junsooki/airrelay/internal/logging"
	"github.com/junsooki/airrelay/internal/metrics"
	"github.com/junsooki/airrelay/internal/peer"
	"github.com/junsooki/airrelay/internal/relay"
	"github.com/junsooki/airrelay/internal/signaling"
)

func main() {
	cfg, err := config.ParseHostFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.Setup(cfg.Verbose)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("host failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.HostConfig, log *slog.Logger) error {
	log.Info("AirRelay host starting",
		"host_id", cfg.HostID,
		"socket", cfg.Endpoint().Path(),
		"signaling", cfg.SignalingURL,
		"quality", cfg.Quality,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	if cfg.SocketPath == "" {
		if err := os.MkdirAll(cfg.AppGroupDir, 0o700); err != nil {
			return fmt.Errorf("create app group dir: %w", err)
		}
	}

	pipeline := relay.NewPipeline(encoder.NewJPEGEncoder(cfg.Quality), log)
	capturer := broadcast.NewScreenCapturer(cfg.Endpoint(), pipeline,
		broadcast.WithMaxPayload(cfg.PayloadLimit()),
		broadcast.WithRearm(cfg.Rearm),
		broadcast.WithLogger(log),
	)

	peers := &hostPeers{
		opts: peer.Options{
			ICEServers:      peer.ICEServersFromURLs(cfg.ICEURLs()),
			Logger:          log,
			IncludeLoopback: cfg.Loopback,
		},
		pipeline: pipeline,
		log:      log,
	}
	sig := signaling.NewClient(cfg.SignalingURL, cfg.HostID, signaling.ClientTypeHost, signaling.Handler{
		OnRegistered: func() {
			log.Info("registered with signaling server")
		},
		OnOffer:        peers.handleOffer,
		OnICECandidate: peers.handleCandidate,
		OnError: func(msg string) {
			log.Warn("signaling error", "msg", msg)
		},
	}, signaling.Options{Logger: log, DialTimeout: 30 * time.Second})
	peers.sig = sig

	if err := capturer.StartCapture(); err != nil {
		return err
	}
	defer capturer.StopCapture(func() { log.Info("capture stopped") })

	if err := sig.Connect(ctx); err != nil {
		return err
	}
	defer sig.Close()
	defer peers.close()

	log.Info("host ready, share this ID with controllers", "host_id", cfg.HostID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(ctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sig.Done():
			return errors.New("signaling connection lost")
		}
	})
	if cfg.Metrics != "" {
		srv := &http.Server{Addr: cfg.Metrics, Handler: metricsMux(reg), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", "addr", cfg.Metrics)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	log.Info("shutting down")
	return err
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

// hostPeers keeps the peer of the most recent controller. A new offer
// replaces the previous peer.
type hostPeers struct {
	opts     peer.Options
	pipeline *relay.Pipeline
	sig      *signaling.Client
	log      *slog.Logger

	mu      sync.Mutex
	current *peer.Host
}

func (h *hostPeers) handleOffer(from string, payload json.RawMessage) {
	h.log.Info("received offer", "from", from)

	hp, err := peer.NewHost(h.sig, h.opts)
	if err != nil {
		h.log.Error("create host peer", "err", err)
		return
	}

	h.mu.Lock()
	prev := h.current
	h.current = hp
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	if err := hp.HandleOffer(from, payload); err != nil {
		h.log.Error("handle offer", "from", from, "err", err)
		return
	}
	h.pipeline.SetSink(hp.Transport())
}

func (h *hostPeers) handleCandidate(from string, payload json.RawMessage) {
	h.mu.Lock()
	hp := h.current
	h.mu.Unlock()
	if hp == nil || hp.Controller() != from {
		return
	}
	if err := hp.HandleICECandidate(payload); err != nil {
		h.log.Warn("handle ICE candidate", "from", from, "err", err)
	}
}

func (h *hostPeers) close() {
	h.pipeline.SetSink(nil)
	h.mu.Lock()
	hp := h.current
	h.current = nil
	h.mu.Unlock()
	if hp != nil {
		hp.Close()
	}
}
