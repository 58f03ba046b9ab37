// Package main follows one trade from the terminal: it prints the trade every
// time a committed change arrives and can take the participant's next
// action.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"confianza/internal/domain"
	"confianza/internal/realtime"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "Base URL of the trade API")
	token := flag.String("token", os.Getenv("CONFIANZA_TOKEN"), "Session token (default $CONFIANZA_TOKEN)")
	tradeID := flag.String("trade", "", "Trade id to watch")
	act := flag.Bool("act", false, "Take the presented action once subscribed")
	dispute := flag.Bool("dispute", false, "Open a dispute once subscribed")
	remount := flag.Duration("remount-delay", 0, "Resubscribe after this delay when the subscription fails (0 exits)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if *tradeID == "" || *token == "" {
		logger.Fatal("--trade and --token are required")
	}
	if *act && *dispute {
		logger.Fatal("--act and --dispute are exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := realtime.NewClient(*apiURL, *token)
	initial, err := client.GetTrade(ctx, *tradeID)
	if err != nil {
		logger.WithError(err).Fatal("failed to load trade")
	}

	subscribed := make(chan struct{})
	var once sync.Once
	view := realtime.NewView(initial.Trade, initial.Role, func(s realtime.Snapshot) {
		render(s)
		if s.Conn == realtime.StateSubscribed {
			once.Do(func() { close(subscribed) })
		}
	})

	source := realtime.NewWSSource(*apiURL, *token, nil, logger)
	propagator := realtime.NewPropagator(source, view, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- runMounted(ctx, propagator, *remount, logger) }()

	if *act || *dispute {
		select {
		case <-subscribed:
			takeAction(ctx, client, view, *dispute, logger)
		case err := <-errCh:
			exit(err, logger)
			return
		}
	}

	exit(<-errCh, logger)
}

// runMounted runs the propagator, remounting after failures when delay is
// positive.
func runMounted(ctx context.Context, p *realtime.Propagator, delay time.Duration, logger log.FieldLogger) error {
	for {
		err := p.Run(ctx)
		if err == nil || delay <= 0 {
			return err
		}
		logger.WithError(err).WithField("retry_in", delay.String()).Warn("subscription lost, remounting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func takeAction(ctx context.Context, client *realtime.Client, view *realtime.View, dispute bool, logger log.FieldLogger) {
	action := view.Action()

	var target domain.TradeStatus
	switch {
	case dispute && action.DisputeAvailable:
		target = domain.StatusDisputed
	case dispute:
		logger.Warn("disputes are not available at this status")
		return
	case action.Enabled:
		target = action.Target
	default:
		logger.WithField("action", action.Label).Warn("no action available")
		return
	}

	entry := logger.WithField("requested_status", string(target))
	if err := realtime.Act(ctx, client, view, target); err != nil {
		var apiErr *realtime.APIError
		if errors.As(err, &apiErr) && apiErr.StateChanged() {
			entry.WithError(err).Warn("trade changed, refresh and try again")
			return
		}
		entry.WithError(err).Error("action failed")
		return
	}
	entry.Info("action sent")
}

func render(s realtime.Snapshot) {
	marker := ""
	if s.Optimistic {
		marker = " (unconfirmed)"
	}
	conn := string(s.Conn)
	if s.ConnErr != nil {
		conn += ": " + s.ConnErr.Error()
	}

	fmt.Printf("%s  trade=%s role=%s status=%s%s\n",
		time.Now().Format(time.TimeOnly), s.Trade.ID, s.Role, s.Trade.Status, marker)
	fmt.Printf("          action=%q kind=%s enabled=%t dispute=%t conn=%s\n",
		s.Action.Label, s.Action.Kind, s.Action.Enabled, s.Action.DisputeAvailable, conn)
	if s.ActionErr != nil {
		fmt.Printf("          last action failed: %v\n", s.ActionErr)
	}
}

func exit(err error, logger log.FieldLogger) {
	if err != nil {
		logger.WithError(err).Error("watch stopped")
		os.Exit(1)
	}
}
