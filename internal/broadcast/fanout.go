package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/time/rate"

	logx "scuttlebot/pkg/logx"
)

type FanoutConfig struct {
	Workers    int
	RatePerSec int
}

func (c FanoutConfig) withDefaults() FanoutConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	return c
}

// Fanout delivers one message to many targets with a bounded worker pool and
// a shared token bucket.
type Fanout struct {
	ch  DeliveryChannel
	log logx.Logger

	mu      sync.Mutex
	cfg     FanoutConfig
	limiter *rate.Limiter
}

func NewFanout(ch DeliveryChannel, cfg FanoutConfig, log logx.Logger) *Fanout {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fanout{ch: ch, log: log}
	f.Apply(cfg)
	return f
}

// Apply swaps pool size and rate. Runs already in flight keep their snapshot.
func (f *Fanout) Apply(cfg FanoutConfig) {
	cfg = cfg.withDefaults()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (f *Fanout) snapshot() (FanoutConfig, *rate.Limiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.limiter
}

// Deliver attempts every target and returns the folded report. Only RunID,
// Template, Test and Duration are left for the caller to fill in.
func (f *Fanout) Deliver(ctx context.Context, msg Message, targets []Target) Report {
	if len(targets) == 0 {
		return Report{}
	}
	cfg, lim := f.snapshot()
	workers := min(cfg.Workers, len(targets))

	outcomes := make([]error, len(targets))
	next := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				outcomes[i] = f.deliverOne(ctx, lim, msg, targets[i])
			}
		}()
	}
	for i := range targets {
		next <- i
	}
	close(next)
	wg.Wait()

	return fold(targets, outcomes)
}

func (f *Fanout) deliverOne(ctx context.Context, lim *rate.Limiter, msg Message, t Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("panic in broadcast delivery",
				logx.String("guild_id", t.GuildID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	ch, err := f.ch.ResolveTarget(ctx, t)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrChannelNotFound
	}
	if !ch.Writable() {
		return ErrChannelNotWritable
	}
	if err := f.ch.Send(ctx, ch, msg); err != nil {
		f.log.Debug("broadcast send failed",
			logx.String("guild_id", t.GuildID),
			logx.String("channel", ch.Ref()),
			logx.Err(err),
		)
		return err
	}
	return nil
}
