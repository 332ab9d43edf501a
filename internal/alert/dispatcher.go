package alert

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dispatcher fans an alert out to every configured channel. Channels are
// independent: a failing channel is logged and never prevents delivery on
// the others.
type Dispatcher struct {
	log      *zap.Logger
	channels []Channel
	// limiters is parallel to channels; names are labels, not identities,
	// so two same-named channels still get separate buckets.
	limiters []*rate.Limiter
}

// NewDispatcher builds a dispatcher over the given channels. When
// ratePerMinute is positive, each channel gets its own token bucket and
// deliveries beyond the cap are dropped with a warning.
func NewDispatcher(channels []Channel, ratePerMinute int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		log:      logger.Named("alerts"),
		channels: channels,
	}
	if ratePerMinute > 0 {
		d.limiters = make([]*rate.Limiter, len(channels))
		perSecond := rate.Limit(float64(ratePerMinute) / 60.0)
		for i := range channels {
			d.limiters[i] = rate.NewLimiter(perSecond, ratePerMinute)
		}
	}
	return d
}

// Dispatch delivers the event to all channels concurrently and blocks until
// every attempt has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if len(d.channels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i, ch := range d.channels {
		if d.limiters != nil && !d.limiters[i].Allow() {
			d.log.Warn("Alert dropped by rate limit.",
				zap.String("channel", ch.Name()),
				zap.String("url", ev.URL))
			continue
		}

		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, ev); err != nil {
				d.log.Error("Alert delivery failed.",
					zap.String("channel", ch.Name()),
					zap.String("url", ev.URL),
					zap.Error(err))
				return
			}
			d.log.Info("Alert delivered.",
				zap.String("channel", ch.Name()),
				zap.String("url", ev.URL))
		}(ch)
	}
	wg.Wait()
}
