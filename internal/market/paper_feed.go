package market

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"trading-worker/internal/job"
)

// Enqueuer accepts jobs; *job.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(t job.Type, payload any) (job.Envelope, error)
}

// PaperFeed drives the worker without an exchange: every interval it walks
// each symbol's price and enqueues a PRICE_UPDATE followed by a SIGNAL_CHECK.
type PaperFeed struct {
	Jobs       Enqueuer
	Symbols    []string
	StartPrice float64
	Step       float64 // max absolute move per tick
	Interval   time.Duration
	Logger     *zap.Logger

	rng    *rand.Rand
	prices map[string]float64
}

func (f *PaperFeed) defaults() {
	if len(f.Symbols) == 0 {
		f.Symbols = []string{"BTC/USDT"}
	}
	if f.StartPrice <= 0 {
		f.StartPrice = 100.0
	}
	if f.Step <= 0 {
		f.Step = 0.5
	}
	if f.Interval <= 0 {
		f.Interval = time.Second
	}
	if f.Logger == nil {
		f.Logger = zap.NewNop()
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	f.prices = make(map[string]float64, len(f.Symbols))
	for _, sym := range f.Symbols {
		f.prices[sym] = f.StartPrice
	}
}

// Start launches the feed; it stops when ctx is done.
func (f *PaperFeed) Start(ctx context.Context) {
	f.defaults()
	log := f.Logger.Sugar()
	if f.Jobs == nil {
		log.Warn("paper feed: no job sink, not started")
		return
	}
	log.Infof("📄 paper feed started: symbols=%v interval=%s", f.Symbols, f.Interval)

	go func() {
		t := time.NewTicker(f.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				if err := f.tick(now.UTC()); err != nil {
					log.Infof("paper feed stopped: %v", err)
					return
				}
			}
		}
	}()
}

// tick advances every symbol once. It returns the first enqueue error, which
// only happens once the dispatcher is closed or the payload is unusable.
func (f *PaperFeed) tick(now time.Time) error {
	for _, sym := range f.Symbols {
		price := f.next(sym)
		if _, err := f.Jobs.Enqueue(job.TypePriceUpdate, job.PriceUpdatePayload{Symbol: sym, Price: price, Timestamp: now}); err != nil {
			return err
		}
		if _, err := f.Jobs.Enqueue(job.TypeSignalCheck, job.SignalCheckPayload{Symbol: sym, Price: price}); err != nil {
			return err
		}
	}
	return nil
}

// next is a bounded random walk that never reaches zero.
func (f *PaperFeed) next(sym string) float64 {
	p := f.prices[sym] + (f.rng.Float64()*2-1)*f.Step
	if p < f.Step {
		p = f.Step
	}
	f.prices[sym] = p
	return p
}
