// Package sdnotify reports lifecycle state to systemd when the bot runs as a
// Type=notify unit. Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "scuttlebot/pkg/logx"
)

// notifyFunc matches daemon.SdNotify; tests swap it.
type notifyFunc func(unsetEnvironment bool, state string) (bool, error)

type Notifier struct {
	log    logx.Logger
	notify notifyFunc
	// watchdogInterval returns the unit's WatchdogSec, or 0 when disabled.
	watchdogInterval func() (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:    log,
		notify: daemon.SdNotify,
		watchdogInterval: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n *Notifier) Ready()          { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()       { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading()      { n.send(daemon.SdNotifyReloading) }
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx ends.
// It returns immediately when the watchdog is not enabled.
func (n *Notifier) Watchdog(ctx context.Context) error {
	interval, err := n.watchdogInterval()
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
