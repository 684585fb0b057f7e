package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuttlebot/internal/eventbus"
	"scuttlebot/pkg/logx"
)

type fakeChannel struct {
	ref      string
	writable bool
}

func (c fakeChannel) Ref() string    { return c.ref }
func (c fakeChannel) Writable() bool { return c.writable }

// fakeDelivery fails targets according to per-guild rules and records sends.
type fakeDelivery struct {
	resolveErr  map[string]error
	missing     map[string]bool
	readOnly    map[string]bool
	sendErr     map[string]error
	panicOn     map[string]bool
	delay       time.Duration
	resolves    atomic.Int64
	mu          sync.Mutex
	sentTo      []string
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (d *fakeDelivery) ResolveTarget(_ context.Context, t Target) (Channel, error) {
	d.resolves.Add(1)
	if d.panicOn[t.GuildID] {
		panic("boom")
	}
	if err := d.resolveErr[t.GuildID]; err != nil {
		return nil, err
	}
	if d.missing[t.GuildID] {
		return nil, nil
	}
	return fakeChannel{ref: t.ChannelID, writable: !d.readOnly[t.GuildID]}, nil
}

func (d *fakeDelivery) Send(_ context.Context, ch Channel, _ Message) error {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		cur := d.maxInFlight.Load()
		if n <= cur || d.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if err := d.sendErr[ch.Ref()]; err != nil {
		return err
	}
	d.mu.Lock()
	d.sentTo = append(d.sentTo, ch.Ref())
	d.mu.Unlock()
	return nil
}

type staticSource struct {
	targets []Target
	err     error
	calls   int
}

func (s *staticSource) BroadcastTargets(context.Context) ([]Target, error) {
	s.calls++
	return s.targets, s.err
}

func makeTargets(n int) []Target {
	out := make([]Target, n)
	for i := range out {
		out[i] = Target{
			GuildID:   fmt.Sprintf("g%02d", i+1),
			Name:      fmt.Sprintf("Guild %02d", i+1),
			ChannelID: fmt.Sprintf("c%02d", i+1),
		}
	}
	return out
}

func fastFanout(d DeliveryChannel) *Fanout {
	return NewFanout(d, FanoutConfig{Workers: 4, RatePerSec: 1000}, logx.Nop())
}

func newService(d DeliveryChannel, src TargetSource, opts ...ServiceOption) *Service {
	return NewService(NewStaticRegistry(BuiltinTemplates()...), src, fastFanout(d), opts...)
}

func TestBroadcastTwelveTargetsThreeFailures(t *testing.T) {
	d := &fakeDelivery{
		missing:    map[string]bool{"g03": true},
		readOnly:   map[string]bool{"g07": true},
		resolveErr: map[string]error{"g11": errors.New("Missing Access")},
	}
	svc := newService(d, nil)

	rep, err := svc.Broadcast(context.Background(), ArenaAnnouncement, makeTargets(12), "")
	require.NoError(t, err)

	assert.Equal(t, 12, rep.Attempted)
	assert.Equal(t, 9, rep.Succeeded)
	assert.Equal(t, 3, rep.Failed)
	assert.False(t, rep.Truncated)
	assert.False(t, rep.Test)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, ArenaAnnouncement, rep.Template)

	want := []string{
		"Guild 03: channel not found",
		"Guild 07: channel not writable",
		"Guild 11: Missing Access",
	}
	if diff := cmp.Diff(want, rep.FailureReasons); diff != "" {
		t.Fatalf("failure reasons mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, d.sentTo, 9)
}

func TestBroadcastTruncatesFailureReasons(t *testing.T) {
	targets := makeTargets(15)
	d := &fakeDelivery{sendErr: map[string]error{}}
	for _, tg := range targets[:12] {
		d.sendErr[tg.ChannelID] = errors.New("rate limited")
	}
	rep, err := newService(d, nil).Broadcast(context.Background(), ArenaAnnouncement, targets, "")
	require.NoError(t, err)

	assert.Equal(t, 12, rep.Failed)
	assert.Equal(t, 3, rep.Succeeded)
	assert.Len(t, rep.FailureReasons, MaxFailureReasons)
	assert.True(t, rep.Truncated)
	assert.Equal(t, 2, rep.Hidden())
	assert.Equal(t, "Guild 01: rate limited", rep.FailureReasons[0])
	assert.Equal(t, "Guild 10: rate limited", rep.FailureReasons[9])
}

func TestBroadcastExactlyTenFailuresNotTruncated(t *testing.T) {
	targets := makeTargets(10)
	d := &fakeDelivery{missing: map[string]bool{}}
	for _, tg := range targets {
		d.missing[tg.GuildID] = true
	}
	rep, err := newService(d, nil).Broadcast(context.Background(), ArenaAnnouncement, targets, "")
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Failed)
	assert.Len(t, rep.FailureReasons, 10)
	assert.False(t, rep.Truncated)
	assert.Zero(t, rep.Hidden())
}

func TestReportArithmeticOverGeneratedTargets(t *testing.T) {
	f := gofakeit.New(42)
	for round := 0; round < 25; round++ {
		n := f.IntRange(1, 40)
		targets := make([]Target, n)
		d := &fakeDelivery{
			missing:  map[string]bool{},
			readOnly: map[string]bool{},
			sendErr:  map[string]error{},
		}
		for i := range targets {
			targets[i] = Target{
				GuildID:   f.UUID(),
				Name:      f.Company(),
				ChannelID: f.UUID(),
			}
			switch f.IntRange(0, 4) {
			case 0:
				d.missing[targets[i].GuildID] = true
			case 1:
				d.readOnly[targets[i].GuildID] = true
			case 2:
				d.sendErr[targets[i].ChannelID] = errors.New(f.HackerPhrase())
			}
		}

		rep, err := newService(d, nil).Broadcast(context.Background(), ArenaAnnouncement, targets, "")
		require.NoError(t, err)
		require.Equal(t, n, rep.Attempted)
		require.Equal(t, rep.Attempted, rep.Succeeded+rep.Failed)
		require.Len(t, rep.FailureReasons, min(rep.Failed, MaxFailureReasons))
		require.Equal(t, rep.Failed > MaxFailureReasons, rep.Truncated)
	}
}

func TestBroadcastUnknownTemplateDeliversNothing(t *testing.T) {
	d := &fakeDelivery{}
	src := &staticSource{targets: makeTargets(3)}
	svc := newService(d, src)

	_, err := svc.Broadcast(context.Background(), "unknown_template", makeTargets(3), "")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = svc.Run(context.Background(), Request{Template: "unknown_template"})
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	assert.Zero(t, d.resolves.Load())
	assert.Empty(t, d.sentTo)
	assert.Zero(t, src.calls, "template is checked before targets are fetched")
}

func TestBroadcastNoTargets(t *testing.T) {
	d := &fakeDelivery{}
	_, err := newService(d, nil).Broadcast(context.Background(), ArenaAnnouncement, nil, "")
	assert.ErrorIs(t, err, ErrNoTargets)
	assert.Zero(t, d.resolves.Load())
}

func TestBroadcastTestMode(t *testing.T) {
	t.Run("filters to one guild", func(t *testing.T) {
		d := &fakeDelivery{}
		rep, err := newService(d, nil).Broadcast(context.Background(), ArenaAnnouncement, makeTargets(5), "g04")
		require.NoError(t, err)
		assert.True(t, rep.Test)
		assert.Equal(t, 1, rep.Attempted)
		assert.Equal(t, []string{"c04"}, d.sentTo)
	})
	t.Run("unknown guild", func(t *testing.T) {
		d := &fakeDelivery{}
		_, err := newService(d, nil).Broadcast(context.Background(), ArenaAnnouncement, makeTargets(5), "g99")
		assert.ErrorIs(t, err, ErrTestTargetNotFound)
		assert.Contains(t, err.Error(), "g99")
		assert.Zero(t, d.resolves.Load())
	})
	t.Run("empty target set wins over test filter", func(t *testing.T) {
		_, err := newService(&fakeDelivery{}, nil).Broadcast(context.Background(), ArenaAnnouncement, nil, "g01")
		assert.ErrorIs(t, err, ErrNoTargets)
	})
}

func TestRunFetchesTargets(t *testing.T) {
	d := &fakeDelivery{}
	src := &staticSource{targets: makeTargets(4)}
	rep, err := newService(d, src).Run(context.Background(), Request{Template: ArenaAnnouncement})
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 4, rep.Succeeded)
}

func TestRunSourceFailure(t *testing.T) {
	src := &staticSource{err: errors.New("503 Service Unavailable")}
	_, err := newService(&fakeDelivery{}, src).Run(context.Background(), Request{Template: ArenaAnnouncement})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "503")
}

func TestFanoutOrderIsDeterministicUnderConcurrency(t *testing.T) {
	targets := makeTargets(30)
	d := &fakeDelivery{sendErr: map[string]error{}, delay: 2 * time.Millisecond}
	var want []string
	for i, tg := range targets {
		if i%3 == 0 {
			d.sendErr[tg.ChannelID] = fmt.Errorf("send %s failed", tg.ChannelID)
			if len(want) < MaxFailureReasons {
				want = append(want, fmt.Sprintf("%s: send %s failed", tg.Name, tg.ChannelID))
			}
		}
	}
	f := NewFanout(d, FanoutConfig{Workers: 8, RatePerSec: 1000}, logx.Nop())

	for i := 0; i < 3; i++ {
		rep := f.Deliver(context.Background(), Message{Key: "k"}, targets)
		if diff := cmp.Diff(want, rep.FailureReasons); diff != "" {
			t.Fatalf("run %d: reasons mismatch (-want +got):\n%s", i, diff)
		}
	}
	assert.LessOrEqual(t, d.maxInFlight.Load(), int64(8))
}

func TestFanoutRecoversPanics(t *testing.T) {
	d := &fakeDelivery{panicOn: map[string]bool{"g02": true}}
	rep := fastFanout(d).Deliver(context.Background(), Message{}, makeTargets(3))
	assert.Equal(t, 3, rep.Attempted)
	assert.Equal(t, 1, rep.Failed)
	assert.Contains(t, rep.FailureReasons[0], "Guild 02: internal error")
}

func TestFanoutCancelledContextStillReportsEveryTarget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &fakeDelivery{}
	rep := fastFanout(d).Deliver(ctx, Message{}, makeTargets(5))
	assert.Equal(t, 5, rep.Attempted)
	assert.Equal(t, 5, rep.Failed)
	assert.Zero(t, d.resolves.Load())
}

func TestAccumulateDoesNotMutateInput(t *testing.T) {
	base := Report{}
	for i := 0; i < 3; i++ {
		base = accumulate(base, Target{Name: "x"}, errors.New("e"))
	}
	a := accumulate(base, Target{Name: "a"}, errors.New("a"))
	b := accumulate(base, Target{Name: "b"}, errors.New("b"))

	assert.Len(t, base.FailureReasons, 3)
	assert.Equal(t, "a: a", a.FailureReasons[3])
	assert.Equal(t, "b: b", b.FailureReasons[3])
}

func TestFailureReasonFallsBackToGuildID(t *testing.T) {
	r := accumulate(Report{}, Target{GuildID: "123"}, ErrChannelNotFound)
	assert.Equal(t, []string{"123: channel not found"}, r.FailureReasons)
}

func TestBroadcastPublishesEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	svc := newService(&fakeDelivery{}, nil, WithBus(bus))

	_, err := svc.Broadcast(context.Background(), ArenaAnnouncement, makeTargets(2), "")
	require.NoError(t, err)
	_, err = svc.Broadcast(context.Background(), "nope", makeTargets(2), "")
	require.Error(t, err)

	e := <-events
	assert.Equal(t, eventbus.BroadcastFinished, e.Type)
	rep, ok := e.Data.(Report)
	require.True(t, ok)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, eventbus.BroadcastRejected, (<-events).Type)
}

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry(append(BuiltinTemplates(),
		Message{Key: "maintenance", Title: "Maintenance"},
		Message{Key: ArenaAnnouncement, Title: "Overridden"},
		Message{Title: "no key"},
	)...)
	assert.Equal(t, []string{ArenaAnnouncement, "maintenance"}, reg.Keys())

	msg, ok := reg.Lookup(ArenaAnnouncement)
	require.True(t, ok)
	assert.Equal(t, "Overridden", msg.Title)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestSetTemplatesSwapsRegistry(t *testing.T) {
	svc := newService(&fakeDelivery{}, nil)
	svc.SetTemplates(NewStaticRegistry(Message{Key: "only"}))
	_, err := svc.Broadcast(context.Background(), ArenaAnnouncement, makeTargets(1), "")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	_, err = svc.Broadcast(context.Background(), "only", makeTargets(1), "")
	assert.NoError(t, err)
}
