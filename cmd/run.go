package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"sacngen/internal/action"
	"sacngen/internal/artnet"
	"sacngen/internal/clientmqtt"
	"sacngen/internal/config"
	"sacngen/internal/console"
	"sacngen/internal/logger"
	"sacngen/internal/preset"
	"sacngen/internal/sacn"
	"sacngen/internal/schedule"
	"sacngen/internal/transmit"
	"sacngen/internal/wave"
)

func run(parent context.Context, cfg *config.Config, flags *rootFlags) error {
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create a logger: %w", err)
	}
	defer func() { _ = log.Close() }()
	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	sender, err := newSender(ctx, log, cfg, flags.dryRun)
	if err != nil {
		return err
	}
	defer func() {
		if err := sender.Close(); err != nil {
			log.With(logger.Fields{"module": "sender"}).Errorf("failed to close the sender: %v", err)
		}
	}()

	sched, err := schedule.New(cfg.Timing.SendInterval.Duration, schedule.WithKeepAlive(cfg.Timing.KeepAlive.Duration))
	if err != nil {
		return err
	}
	layout := wave.DefaultLayout()
	runner := preset.NewRunner(log, newTable(cfg), sched, sender)
	disp := action.NewDispatcher(log, sender, sched, runner, layout)

	// Канал команд из всех источников.
	lines := make(chan console.Line, 16)

	persistent := flags.keepOpen
	if cfg.MQTT.Enabled {
		client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT))
		if err := client.Start(ctx, lines); err != nil {
			return fmt.Errorf("failed to start MQTT service: %w", err)
		}
		defer func() {
			if err := client.Stop(); err != nil {
				log.With(logger.Fields{"module": "mqtt"}).Errorf("failed to stop MQTT service: %v", err)
			}
		}()
		persistent = true
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		if flags.script != "" {
			err = console.ReadFile(ctx, flags.script, lines)
		} else {
			err = console.Stdin(ctx, lines)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.With(logger.Fields{"module": "console"}).Errorf("input stopped: %v", err)
		}
	}()
	if !persistent {
		go func() {
			wg.Wait()
			close(lines)
		}()
	}

	dispatchLoop(ctx, log, disp, lines)
	log.Info("shutdown complete")
	return nil
}

// newSender returns the transmission chain: a recorder in dry-run mode or an
// sACN source, optionally mirrored to Art-Net.
func newSender(ctx context.Context, log *logger.Log, cfg *config.Config, dryRun bool) (transmit.Sender, error) {
	var sender transmit.Sender
	if dryRun {
		log.With(logger.Fields{"module": "dry-run"}).Info("dry run, packets are logged at debug level and not sent")
		sender = transmit.NewRecorder(log)
	} else {
		opts, err := ConvertConfigSource(cfg.Source)
		if err != nil {
			return nil, err
		}
		src, err := sacn.NewSource(log, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open the sACN source: %w", err)
		}
		sender = src
	}

	if !cfg.ArtNet.Enabled {
		return sender, nil
	}
	m, err := artnet.NewMirror(log, ConvertConfigArtNet(cfg.ArtNet), sender)
	if err != nil {
		_ = sender.Close()
		return nil, fmt.Errorf("error while creating a new controller art-net: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		_ = sender.Close()
		return nil, fmt.Errorf("failed to start art-net service: %w", err)
	}
	log.With(logger.Fields{"module": "art-net"}).Debug("Mirror created ok")
	return m, nil
}

// dispatchLoop executes lines one at a time until the channel is closed, the
// context is done or a terminate without universe is dispatched.
func dispatchLoop(ctx context.Context, log *logger.Log, disp *action.Dispatcher, lines <-chan console.Line) {
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			err := dispatchLine(ctx, log, disp, l)
			if l.Reply != nil {
				l.Reply(err)
			}
			if errors.Is(err, action.ErrHalt) || ctx.Err() != nil {
				return
			}
		}
	}
}

func dispatchLine(ctx context.Context, log *logger.Log, disp *action.Dispatcher, l console.Line) error {
	entry := log.With(logger.Fields{"module": "dispatch", "source": l.Source, "line": l.Number})

	a, err := action.ParseLine(l.Number, l.Text)
	if err != nil {
		entry.Error(err)
		return err
	}
	if _, ok := a.(action.Ignore); ok {
		return nil
	}

	entry.Debugf("%s: %q", action.Name(a), l.Text)
	err = disp.Dispatch(ctx, a)
	switch {
	case err == nil:
	case errors.Is(err, action.ErrHalt):
		entry.Info("all universes terminated")
	case errors.Is(err, context.Canceled):
		entry.Warnf("%s interrupted", action.Name(a))
	default:
		entry.Error(err)
	}
	return err
}
