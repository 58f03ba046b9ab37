package realtime

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"confianza/internal/storage"
)

// Propagator feeds committed changes of one trade into a View.
type Propagator struct {
	feed   storage.ChangeFeed
	view   *View
	logger logrus.FieldLogger
}

// NewPropagator creates a propagator reading from feed. feed is typically a
// WSSource, or a storage feed when running in-process.
func NewPropagator(feed storage.ChangeFeed, view *View, logger logrus.FieldLogger) *Propagator {
	return &Propagator{feed: feed, view: view, logger: logger}
}

// Run subscribes and applies changes until ctx is done or the subscription
// fails. It does not reconnect; call Run again to remount. A failed run
// leaves the view in StateError with its last known trade.
func (p *Propagator) Run(ctx context.Context) error {
	tradeID := p.view.TradeID()
	log := p.logger.WithField("trade_id", tradeID)

	p.view.setConn(StateConnecting, nil)
	sub, err := p.feed.Subscribe(ctx, tradeID)
	if err != nil {
		err = fmt.Errorf("subscribe: %w", err)
		p.view.setConn(StateError, err)
		log.WithError(err).Error("realtime subscription error")
		return err
	}
	defer sub.Close()

	p.view.setConn(StateSubscribed, nil)
	log.Info("realtime subscription established")

	for {
		select {
		case <-ctx.Done():
			p.view.setConn(StateClosed, nil)
			return nil

		case patch, ok := <-sub.Changes():
			if !ok {
				if err := sub.Err(); err != nil {
					p.view.setConn(StateError, err)
					log.WithError(err).Error("realtime subscription error")
					return err
				}
				p.view.setConn(StateClosed, nil)
				return nil
			}
			if p.view.ApplyConfirmed(patch) {
				log.WithField("new_status", string(patch.Status)).Info("realtime trade update received")
			}
		}
	}
}
