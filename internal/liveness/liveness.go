// Package liveness is the liveness monitor (C7): a 10 s sweep that
// applies the 30 s offline/online hysteresis threshold to every
// device's last-seen timestamp and publishes status-change events.
package liveness

import (
	"context"
	"time"

	"github.com/goranbacvar/Cyviz/internal/broadcast"
	"github.com/goranbacvar/Cyviz/internal/logging"
	"github.com/goranbacvar/Cyviz/internal/metrics"
	"github.com/goranbacvar/Cyviz/internal/model"
	"github.com/goranbacvar/Cyviz/internal/notify"
	"github.com/goranbacvar/Cyviz/internal/store"
)

const sweepPeriod = 10 * time.Second

// Monitor periodically reconciles device status against last-seen.
type Monitor struct {
	store     *store.Store
	broadcast *broadcast.Hub
	notifier  *notify.Notifier
	offAfter  time.Duration
}

// New creates a liveness monitor. offAfter is T_off (30s in the spec).
func New(st *store.Store, bc *broadcast.Hub, n *notify.Notifier, offAfter time.Duration) *Monitor {
	return &Monitor{store: st, broadcast: bc, notifier: n, offAfter: offAfter}
}

// Run sweeps every 10 s until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.offAfter)

	stale, err := m.store.ListStaleOnline(ctx, cutoff)
	if err != nil {
		logging.Error("liveness_sweep", "fail", err.Error(), nil)
		return
	}
	transitioned := 0
	for _, d := range stale {
		if err := m.store.UpdateDeviceStatus(ctx, d.ID, model.StatusOffline, timeOrZero(d.LastSeen)); err != nil {
			logging.Error("liveness_mark_offline", "fail", err.Error(), map[string]any{"deviceId": d.ID})
			continue
		}
		transitioned++
		m.broadcast.DeviceStatusChanged(d.ID, model.StatusOffline)
		m.notifier.DeviceOffline(d.ID, d.Name)
	}

	metrics.DevicesOnline.Add(-float64(transitioned))
	logging.Debug("liveness_sweep_done", "", "", map[string]any{"transitioned_offline": transitioned})
}

// MarkOnline is invoked from the heartbeat path, on device connect, and
// for every inbound telemetry or command-result frame to flip a device
// back to online immediately, without waiting for the next sweep.
func (m *Monitor) MarkOnline(ctx context.Context, deviceID string) error {
	d, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := m.store.UpdateDeviceStatus(ctx, deviceID, model.StatusOnline, now); err != nil {
		return err
	}
	if d.Status != model.StatusOnline {
		m.broadcast.DeviceStatusChanged(deviceID, model.StatusOnline)
		metrics.DevicesOnline.Inc()
	}
	return nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
