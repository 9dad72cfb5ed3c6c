package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/config"
	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
	"github.com/sweeney/medicine-tracker/internal/mqtt"
	"github.com/sweeney/medicine-tracker/internal/status"
	"github.com/sweeney/medicine-tracker/internal/storage"
)

// storeTimeout bounds a single persistence call from the run loop.
const storeTimeout = 5 * time.Second

// tracker owns the registry. Every method runs on the run loop goroutine.
type tracker struct {
	cfg        *config.Config
	reg        *medicine.Registry
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	status     *status.Tracker
	store      storage.Store
	zones      logic.ZoneSource
	notify     func(state string)
	network    func() *status.NetworkInfo
	// onReload, if set, runs after a new configuration is applied.
	onReload func(cfg *config.Config)
	now      func() time.Time
	log      zerolog.Logger
}

// inputs are the event sources of the run loop. A nil channel never fires.
type inputs struct {
	sig       <-chan os.Signal
	refresh   <-chan time.Time
	heartbeat <-chan time.Time
	watchdog  <-chan time.Time
	commands  <-chan medicine.Command
	reloads   <-chan *config.Config
	republish <-chan struct{}
}

func sdNotify(state string) {
	// Errors only mean we are not running under systemd.
	_, _ = daemon.SdNotify(false, state)
}

func (t *tracker) init() {
	if t.now == nil {
		t.now = time.Now
	}
	if t.notify == nil {
		t.notify = func(string) {}
	}
	if t.network == nil {
		t.network = func() *status.NetworkInfo { return nil }
	}
	t.reg = t.build(t.cfg, nil)
}

// build creates a registry for cfg. History comes from prev when the
// medicine already existed, otherwise from the store.
func (t *tracker) build(cfg *config.Config, prev map[string]medicine.Persisted) *medicine.Registry {
	reg := medicine.NewRegistry(cfg.Medicines, medicine.Env{
		Zones:           t.zones,
		DefaultLocation: cfg.Location,
		Logger:          t.log,
	}, t.now)

	for _, mc := range cfg.Medicines {
		if p, ok := prev[mc.ID]; ok {
			reg.Restore(mc.ID, p)
			continue
		}
		if t.store == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		rec, err := t.store.Load(ctx, mc.ID)
		cancel()
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			t.log.Warn().Err(err).Str("medicine", mc.ID).Msg("failed to restore history")
		default:
			reg.Restore(mc.ID, rec.Persisted())
		}
	}
	return reg
}

// start announces the medicines and publishes their first state.
func (t *tracker) start() {
	if t.cfg.MQTT.Discovery {
		if err := t.publisher.PublishDiscovery(t.reg.States()); err != nil {
			t.log.Warn().Err(err).Msg("failed to publish discovery")
		}
	}
	t.refresh()

	snap := t.status.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := t.publisher.PublishSystem(event); err != nil {
		t.log.Warn().Err(err).Msg("failed to publish startup event")
	} else {
		t.log.Info().Int("medicines", t.reg.Len()).Msg("published startup event")
	}
}

// run processes events until a signal arrives or ctx is done.
func (t *tracker) run(ctx context.Context, in inputs) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s := <-in.sig:
			t.shutdown(s)
			return nil

		case <-in.refresh:
			t.refresh()

		case <-in.heartbeat:
			t.heartbeat()

		case <-in.watchdog:
			t.notify(daemon.SdNotifyWatchdog)

		case cmd := <-in.commands:
			t.apply(cmd)

		case cfg := <-in.reloads:
			t.notify(daemon.SdNotifyReloading)
			t.reload(cfg)
			t.notify(daemon.SdNotifyReady)

		case <-in.republish:
			t.republish()
		}
	}
}

// refresh recomputes every medicine and publishes the ones that changed.
func (t *tracker) refresh() {
	changed := t.reg.Refresh()
	t.publish(changed)
	t.save(changed)
	t.status.Update(t.reg.States())
	t.syncConnection()
}

func (t *tracker) apply(cmd medicine.Command) {
	states, err := t.reg.Apply(cmd)
	if err != nil {
		t.log.Warn().Err(err).Str("source", cmd.Source).Msg("command rejected")
	} else {
		t.log.Info().
			Str("action", string(cmd.Action)).
			Strs("targets", cmd.Targets).
			Str("source", cmd.Source).
			Int("matched", len(states)).
			Msg("command applied")
		t.status.CountCommand(cmd.Action)
		t.publish(states)
		t.save(states)
		t.status.Update(t.reg.States())
	}
	if cmd.Reply != nil {
		select {
		case cmd.Reply <- medicine.Result{States: states, Err: err}:
		default:
			t.log.Warn().Str("source", cmd.Source).Msg("command reply dropped")
		}
	}
}

// reload replaces the registry, keeping the history of medicines that
// survive the change and withdrawing the ones that were removed.
func (t *tracker) reload(cfg *config.Config) {
	for _, w := range cfg.Warnings {
		t.log.Warn().Msg(w)
	}
	old := t.reg.States()
	t.save(old)

	prev := make(map[string]medicine.Persisted, len(old))
	for _, st := range old {
		prev[st.ID] = st.Persisted()
	}

	t.cfg = cfg
	t.reg = t.build(cfg, prev)

	for _, st := range old {
		if _, ok := t.reg.Get(st.ID); ok {
			continue
		}
		if err := t.publisher.RemoveMedicine(st.ID); err != nil {
			t.log.Warn().Err(err).Str("medicine", st.ID).Msg("failed to remove medicine")
		}
	}
	if cfg.MQTT.Discovery {
		if err := t.publisher.PublishDiscovery(t.reg.States()); err != nil {
			t.log.Warn().Err(err).Msg("failed to publish discovery")
		}
	}
	t.status.SetConfig(statusConfig(cfg))
	if t.onReload != nil {
		t.onReload(cfg)
	}
	t.refresh()
	t.log.Info().Int("medicines", t.reg.Len()).Msg("configuration applied")
}

// republish resends discovery and every state, e.g. after the broker
// lost its retained messages.
func (t *tracker) republish() {
	states := t.reg.States()
	if t.cfg.MQTT.Discovery {
		if err := t.publisher.PublishDiscovery(states); err != nil {
			t.log.Warn().Err(err).Msg("failed to publish discovery")
		}
	}
	t.publish(states)
}

func (t *tracker) heartbeat() {
	t.syncConnection()
	if net := t.network(); net != nil {
		t.status.SetNetwork(net)
	}
	t.status.Update(t.reg.States())
	snap := t.status.Snapshot()
	t.log.Info().
		Dur("uptime", snap.Uptime()).
		Int("take", snap.Counts.Take).
		Int("reset", snap.Counts.Reset).
		Msg("heartbeat")
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := t.publisher.PublishSystem(event); err != nil {
		t.log.Warn().Err(err).Msg("heartbeat publish error")
	}
}

func (t *tracker) shutdown(s os.Signal) {
	t.log.Info().Str("signal", s.String()).Msg("shutting down")
	t.notify(daemon.SdNotifyStopping)

	signalName := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		signalName = "SIGINT"
	case syscall.SIGTERM:
		signalName = "SIGTERM"
	}
	t.save(t.reg.States())
	t.syncConnection()
	snap := t.status.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	if err := t.publisher.PublishSystem(event); err != nil {
		t.log.Warn().Err(err).Msg("failed to publish shutdown event")
	} else {
		t.log.Info().Msg("published shutdown event")
	}
}

func (t *tracker) publish(states []medicine.State) {
	for _, st := range states {
		if err := t.publisher.PublishState(st); err != nil {
			// Don't crash on publish failure
			t.log.Warn().Err(err).Str("medicine", st.ID).Msg("publish error")
		}
	}
}

func (t *tracker) save(states []medicine.State) {
	if t.store == nil || len(states) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	at := t.now()
	for _, st := range states {
		if err := t.store.Save(ctx, storage.FromState(st, at)); err != nil {
			t.log.Error().Err(err).Str("medicine", st.ID).Msg("failed to save state")
		}
	}
}

func (t *tracker) syncConnection() {
	if t.mqttStatus != nil {
		t.status.SetMQTTConnected(t.mqttStatus.IsConnected())
	}
}

func statusConfig(cfg *config.Config) status.Config {
	storageDesc := cfg.Storage.Driver
	if storageDesc == "" {
		storageDesc = "none"
	}
	return status.Config{
		RefreshMs:   cfg.Refresh.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Storage:     storageDesc,
		Timezone:    cfg.Location.String(),
		TZSensor:    cfg.TZSensor,
	}
}
