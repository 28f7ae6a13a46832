package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/junsooki/airrelay/internal/config"
	"github.com/junsooki/airrelay/internal/decoder"
	"github.com/junsooki/airrelay/internal/logging"
	"github.com/junsooki/airrelay/internal/peer"
	"github.com/junsooki/airrelay/internal/signaling"
)

func main() {
	cfg, err := config.ParseControllerFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: airrelay-controller -signaling <url> -host <host-id>:", err)
		os.Exit(2)
	}
	log := logging.Setup(cfg.Verbose)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("controller failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.ControllerConfig, log *slog.Logger) error {
	log.Info("AirRelay controller starting",
		"controller_id", cfg.ControllerID,
		"signaling", cfg.SignalingURL,
		"host", cfg.HostID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := newViewer(decoder.NewJPEGDecoder(), cfg.SnapshotDir, cfg.SnapshotRate, log)
	if err != nil {
		return err
	}

	// The peer is created once signaling is up and lives for the whole run.
	ctrlReady := make(chan *peer.Controller, 1)
	var ctrlPeer *peer.Controller

	var sig *signaling.Client
	sig = signaling.NewClient(cfg.SignalingURL, cfg.ControllerID, signaling.ClientTypeController, signaling.Handler{
		OnRegistered: func() {
			log.Info("registered with signaling server")
			if ctrlPeer != nil {
				return
			}
			var err error
			ctrlPeer, err = peer.NewController(sig, cfg.HostID, peer.Options{
				ICEServers:      peer.ICEServersFromURLs(cfg.ICEURLs()),
				MaxPayload:      uint32(cfg.MaxPayload),
				Logger:          log,
				IncludeLoopback: cfg.Loopback,
			})
			if err != nil {
				log.Error("create controller peer", "err", err)
				sig.Close()
				return
			}
			ctrlPeer.Transport().OnFrame(v.handleFrame)
			if err := ctrlPeer.Connect(); err != nil {
				log.Error("controller connect", "err", err)
			}
			ctrlReady <- ctrlPeer
		},
		OnAnswer: func(from string, payload json.RawMessage) {
			if ctrlPeer == nil {
				return
			}
			if err := ctrlPeer.HandleAnswer(payload); err != nil {
				log.Warn("handle answer", "err", err)
			}
		},
		OnICECandidate: func(from string, payload json.RawMessage) {
			if ctrlPeer == nil {
				return
			}
			if err := ctrlPeer.HandleICECandidate(payload); err != nil {
				log.Warn("handle ICE candidate", "err", err)
			}
		},
		OnHostDisconnected: func(hostID string) {
			if hostID == cfg.HostID {
				log.Warn("host disconnected", "host", hostID)
				sig.Close()
			}
		},
		OnError: func(msg string) {
			log.Warn("signaling error", "msg", msg)
		},
	}, signaling.Options{Logger: log, DialTimeout: 30 * time.Second})

	if err := sig.Connect(ctx); err != nil {
		return err
	}
	defer sig.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sig.Done():
			return errors.New("signaling connection closed")
		}
	})
	g.Go(func() error {
		v.report(ctx, 5*time.Second)
		return nil
	})

	err = g.Wait()
	select {
	case p := <-ctrlReady:
		p.Close()
	default:
	}
	return err
}
