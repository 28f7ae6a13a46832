// Command extension stands in for the broadcast upload extension: it dials
// the host application's socket and streams frames from a test pattern or
// the local display.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/junsooki/airrelay/internal/broadcast"
	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/config"
	"github.com/junsooki/airrelay/internal/logging"
	"github.com/junsooki/airrelay/internal/permissions"
	"github.com/junsooki/airrelay/internal/screencap"
	"github.com/junsooki/airrelay/internal/socket"
	"github.com/junsooki/airrelay/internal/testpattern"
)

// errEnough ends the stream once the requested frame count is sent.
var errEnough = errors.New("frame limit reached")

type frameSource interface {
	Run(ctx context.Context, fn func(*capture.Frame) error) error
}

func main() {
	cfg, err := config.ParseExtensionFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.Setup(cfg.Verbose)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errEnough) {
		log.Error("extension failed", "err", err)
		os.Exit(1)
	}
}

func newSource(cfg *config.ExtensionConfig) (frameSource, error) {
	if cfg.Source == config.SourceScreen {
		if err := permissions.EnsureScreenRecording(); err != nil {
			return nil, err
		}
		return screencap.New(cfg.Display, cfg.FPS)
	}
	return testpattern.New(testpattern.Config{Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS})
}

func run(cfg *config.ExtensionConfig, log *slog.Logger) error {
	src, err := newSource(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retry := socket.DefaultRetryPolicy
	retry.MaxElapsed = cfg.DialTimeout
	snd, err := broadcast.Dial(ctx, cfg.Endpoint(), broadcast.SenderOptions{
		MaxPayload: cfg.PayloadLimit(),
		Retry:      retry,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer snd.Close()
	log.Info("broadcast started", "socket", cfg.Endpoint().Path(), "source", cfg.Source, "fps", cfg.FPS)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sent := 0
		return src.Run(ctx, func(f *capture.Frame) error {
			if err := snd.Send(f); err != nil {
				return fmt.Errorf("send frame: %w", err)
			}
			sent++
			if cfg.Frames > 0 && sent >= cfg.Frames {
				log.Info("sent requested frames", "frames", sent)
				return errEnough
			}
			return nil
		})
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-snd.Done():
			if err := snd.Err(); err != nil {
				return err
			}
			return errors.New("host closed the broadcast")
		}
	})

	err = g.Wait()
	log.Info("broadcast finished")
	return err
}
