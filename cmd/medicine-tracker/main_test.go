package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/config"
	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
	"github.com/sweeney/medicine-tracker/internal/mqtt"
	"github.com/sweeney/medicine-tracker/internal/status"
	"github.com/sweeney/medicine-tracker/internal/storage"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

// --- run loop tests ---

// home is a fixed zone so tests do not depend on the host's tzdata.
var home = time.FixedZone("HOME", 2*60*60)

// 2024-01-01 was a Monday.
var monday7am = time.Date(2024, 1, 1, 7, 0, 0, 0, home)

// clock is a settable clock shared between the test and the loop.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func med(id, name string, hour int) medicine.Config {
	return medicine.Config{
		ID:   id,
		Name: name,
		Icon: medicine.DefaultIcon,
		Schedule: logic.Schedule{
			Time: logic.TimeOfDay{Hour: hour},
			Mode: logic.ModeFixed,
		},
	}
}

func testConfig(meds ...medicine.Config) *config.Config {
	return &config.Config{
		Location:  home,
		Refresh:   time.Minute,
		Heartbeat: 15 * time.Minute,
		MQTT:      config.MQTT{Discovery: true, Broker: "tcp://test:1883"},
		Storage:   config.Storage{Driver: "file"},
		Medicines: meds,
	}
}

type harness struct {
	t      *tracker
	pub    *mqtt.FakePublisher
	store  *storage.FakeStore
	status *status.Tracker
	clock  *clock

	mu       sync.Mutex
	notified []string
}

func newHarness(t *testing.T, cfg *config.Config, store *storage.FakeStore) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewFakeStore()
	}
	h := &harness{
		pub:    mqtt.NewFakePublisher(),
		store:  store,
		status: status.NewTracker(monday7am, statusConfig(cfg)),
		clock:  &clock{t: monday7am},
	}
	h.pub.Connected = true
	h.t = &tracker{
		cfg:        cfg,
		publisher:  h.pub,
		mqttStatus: h.pub,
		status:     h.status,
		store:      store,
		notify: func(s string) {
			h.mu.Lock()
			h.notified = append(h.notified, s)
			h.mu.Unlock()
		},
		now: h.clock.Now,
		log: zerolog.Nop(),
	}
	h.t.init()
	return h
}

func (h *harness) notifications() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.notified...)
}

// loop runs the tracker until the returned stop function is called.
type loop struct {
	in   inputs
	sig  chan os.Signal
	cmds chan medicine.Command
	tick chan time.Time
	hb   chan time.Time
	wd   chan time.Time
	rl   chan *config.Config
	rp   chan struct{}
	done chan error
}

func startLoop(h *harness) *loop {
	l := &loop{
		sig:  make(chan os.Signal),
		cmds: make(chan medicine.Command),
		tick: make(chan time.Time),
		hb:   make(chan time.Time),
		wd:   make(chan time.Time),
		rl:   make(chan *config.Config),
		rp:   make(chan struct{}),
		done: make(chan error, 1),
	}
	in := inputs{
		sig:       l.sig,
		refresh:   l.tick,
		heartbeat: l.hb,
		watchdog:  l.wd,
		commands:  l.cmds,
		reloads:   l.rl,
		republish: l.rp,
	}
	go func() { l.done <- h.t.run(context.Background(), in) }()
	return l
}

// stop delivers SIGTERM and waits for the loop to exit.
func (l *loop) stop(t *testing.T) {
	t.Helper()
	l.sig <- syscall.SIGTERM
	select {
	case err := <-l.done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit")
	}
}

// send delivers a command and waits for its reply.
func (l *loop) send(t *testing.T, cmd medicine.Command) medicine.Result {
	t.Helper()
	reply := make(chan medicine.Result, 1)
	cmd.Reply = reply
	l.cmds <- cmd
	select {
	case res := <-reply:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return medicine.Result{}
	}
}

func TestStartPublishesDiscoveryStateAndStartup(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8), med("aspirin", "Aspirin", 21)), nil)
	h.t.start()

	if got := strings.Join(h.pub.Discovered, ","); got != "vitamin-c,aspirin" {
		t.Errorf("discovered: got %q", got)
	}
	states, events := h.pub.Snapshot()
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].Due.Label != "Due at 8 AM" {
		t.Errorf("vitamin-c: got %q", states[0].Due.Label)
	}
	if states[1].Due.Label != "Due at 9 PM" {
		t.Errorf("aspirin: got %q", states[1].Due.Label)
	}
	if len(events) != 1 || events[0].Event != "STARTUP" || !events[0].Retained {
		t.Fatalf("expected retained STARTUP, got %+v", events)
	}
	if !h.status.Snapshot().Ready {
		t.Error("tracker should be ready after start")
	}
	if h.store.Saves() != 2 {
		t.Errorf("expected both medicines saved, got %d saves", h.store.Saves())
	}
}

func TestStartWithoutDiscovery(t *testing.T) {
	cfg := testConfig(med("vitamin-c", "Vitamin C", 8))
	cfg.MQTT.Discovery = false
	h := newHarness(t, cfg, nil)
	h.t.start()
	if len(h.pub.Discovered) != 0 {
		t.Errorf("expected no discovery, got %v", h.pub.Discovered)
	}
}

func TestRestoresHistoryFromStore(t *testing.T) {
	store := storage.NewFakeStore()
	store.Save(context.Background(), storage.Record{
		ID:      "vitamin-c",
		History: []string{"2024-01-01T06:30:00+02:00"},
	})
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8)), store)
	h.t.start()

	states, _ := h.pub.Snapshot()
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	if states[0].Due.Label != "Due Tomorrow" {
		t.Errorf("label: got %q, want Due Tomorrow", states[0].Due.Label)
	}
}

func TestRestoresLegacyLastTaken(t *testing.T) {
	store := storage.NewFakeStore()
	store.Save(context.Background(), storage.Record{ID: "vitamin-c", LastTaken: "2024-01-01T06:30:00"})
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8)), store)
	h.t.start()

	st := h.status.Snapshot().Medicines[0]
	if len(st.History) != 1 {
		t.Fatalf("expected seeded history, got %v", st.History)
	}
	if want := time.Date(2024, 1, 1, 6, 30, 0, 0, home); !st.History[0].Equal(want) {
		t.Errorf("naive last_taken should be read in the default zone: got %v", st.History[0])
	}
}

func TestCommandAppliedPublishedAndSaved(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8), med("aspirin", "Aspirin", 21)), nil)
	h.t.start()
	h.pub.Reset()
	savesBefore := h.store.Saves()

	l := startLoop(h)
	res := l.send(t, medicine.Command{
		Action:  medicine.ActionTake,
		Targets: []string{"sensor.vitamin_c", "nope"},
		Source:  "test",
	})
	l.stop(t)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.States) != 1 || res.States[0].Due.Label != "Due Tomorrow" {
		t.Fatalf("reply: got %+v", res.States)
	}
	states, events := h.pub.Snapshot()
	if len(states) != 1 || states[0].ID != "vitamin-c" {
		t.Errorf("expected only vitamin-c published, got %d states", len(states))
	}
	if got := h.store.Saves() - savesBefore; got < 1 {
		t.Errorf("expected the change to be saved, got %d saves", got)
	}
	rec, err := h.store.Load(context.Background(), "vitamin-c")
	if err != nil || len(rec.History) != 1 {
		t.Errorf("stored record: %+v, err %v", rec, err)
	}
	snap := h.status.Snapshot()
	if snap.Counts.Take != 1 {
		t.Errorf("take count: got %d", snap.Counts.Take)
	}
	last := events[len(events)-1]
	if last.Event != "SHUTDOWN" || last.Reason != "SIGTERM" || !last.Retained {
		t.Errorf("expected retained SHUTDOWN/SIGTERM, got %+v", last)
	}
}

func TestUnknownActionRepliesError(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8)), nil)
	h.t.start()
	l := startLoop(h)
	res := l.send(t, medicine.Command{Action: "explode", Targets: []string{"vitamin-c"}})
	l.stop(t)
	if res.Err == nil {
		t.Error("expected error for unknown action")
	}
	snap := h.status.Snapshot()
	if snap.Counts.Take != 0 || snap.Counts.Reset != 0 {
		t.Errorf("rejected command should not be counted: %+v", snap.Counts)
	}
}

func TestResetClearsHistory(t *testing.T) {
	store := storage.NewFakeStore()
	store.Save(context.Background(), storage.Record{ID: "vitamin-c", History: []string{"2024-01-01T06:30:00+02:00"}})
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8)), store)
	h.t.start()

	l := startLoop(h)
	res := l.send(t, medicine.Command{Action: medicine.ActionReset, Targets: []string{"vitamin-c"}})
	l.stop(t)

	if len(res.States) != 1 || len(res.States[0].History) != 0 {
		t.Fatalf("expected empty history, got %+v", res.States)
	}
	rec, _ := store.Load(context.Background(), "vitamin-c")
	if len(rec.History) != 0 || rec.LastTaken != "" {
		t.Errorf("stored record should be cleared: %+v", rec)
	}
}

func TestRefreshPublishesOnlyChanges(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8), med("aspirin", "Aspirin", 21)), nil)
	h.t.start()
	h.pub.Reset()

	l := startLoop(h)
	h.clock.Set(monday7am.Add(time.Minute))
	l.tick <- time.Time{}
	h.clock.Set(time.Date(2024, 1, 1, 8, 30, 0, 0, home))
	l.tick <- time.Time{}
	l.stop(t)

	states, _ := h.pub.Snapshot()
	if len(states) != 1 {
		t.Fatalf("expected only the overdue medicine to be republished, got %d", len(states))
	}
	if states[0].ID != "vitamin-c" || states[0].Due.Label != "Overdue" {
		t.Errorf("got %s %q", states[0].ID, states[0].Due.Label)
	}
}

func TestHeartbeatPublishesStatus(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8)), nil)
	h.t.network = func() *status.NetworkInfo { return &status.NetworkInfo{Status: "connected", IP: "10.0.0.2"} }
	h.t.start()
	h.pub.Reset()
	h.pub.Connected = true

	l := startLoop(h)
	l.hb <- time.Time{}
	l.stop(t)

	_, events := h.pub.Snapshot()
	if len(events) != 2 || events[0].Event != "HEARTBEAT" {
		t.Fatalf("expected HEARTBEAT then SHUTDOWN, got %+v", events)
	}
	if events[0].Retained {
		t.Error("heartbeat should not be retained")
	}
	if !bytes.Contains(events[0].RawPayload, []byte(`"vitamin-c"`)) {
		t.Errorf("heartbeat payload should describe medicines: %s", events[0].RawPayload)
	}
	snap := h.status.Snapshot()
	if snap.Network == nil || snap.Network.IP != "10.0.0.2" {
		t.Errorf("network not refreshed: %+v", snap.Network)
	}
	if !snap.MQTTConnected {
		t.Error("expected mqtt connected in status")
	}
}

func TestWatchdogAndStoppingNotifications(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8)), nil)
	h.t.start()
	l := startLoop(h)
	l.wd <- time.Time{}
	l.stop(t)

	got := strings.Join(h.notifications(), ",")
	if got != "WATCHDOG=1,STOPPING=1" {
		t.Errorf("notifications: got %q", got)
	}
}

func TestReloadKeepsHistoryAndRemovesMedicine(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8), med("aspirin", "Aspirin", 21)), nil)
	h.t.start()

	var reloaded *config.Config
	h.t.onReload = func(cfg *config.Config) { reloaded = cfg }

	l := startLoop(h)
	l.send(t, medicine.Command{Action: medicine.ActionTake, Targets: []string{"vitamin-c"}})
	h.pub.Reset()

	next := testConfig(med("vitamin-c", "Vitamin C", 9), med("zinc", "Zinc", 12))
	next.TZSensor = "phone/timezone"
	l.rl <- next
	l.stop(t)

	if reloaded != next {
		t.Error("onReload not called with the new config")
	}
	if strings.Join(h.pub.Removed, ",") != "aspirin" {
		t.Errorf("removed: got %v", h.pub.Removed)
	}
	if strings.Join(h.pub.Discovered, ",") != "vitamin-c,zinc" {
		t.Errorf("discovered: got %v", h.pub.Discovered)
	}
	snap := h.status.Snapshot()
	if len(snap.Medicines) != 2 {
		t.Fatalf("expected 2 medicines after reload, got %d", len(snap.Medicines))
	}
	vc := snap.Medicines[0]
	if vc.ID != "vitamin-c" || len(vc.History) != 1 {
		t.Errorf("vitamin-c should keep its history: %+v", vc)
	}
	if vc.ScheduleTime != "09:00" {
		t.Errorf("schedule time: got %q", vc.ScheduleTime)
	}
	if snap.Config.TZSensor != "phone/timezone" {
		t.Errorf("status config not updated: %+v", snap.Config)
	}
	got := strings.Join(h.notifications(), ",")
	if !strings.HasPrefix(got, "RELOADING=1,READY=1") {
		t.Errorf("notifications: got %q", got)
	}
}

func TestRepublishResendsEverything(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8), med("aspirin", "Aspirin", 21)), nil)
	h.t.start()
	h.pub.Reset()

	l := startLoop(h)
	l.rp <- struct{}{}
	l.stop(t)

	states, _ := h.pub.Snapshot()
	if len(states) != 2 {
		t.Errorf("expected all states republished, got %d", len(states))
	}
	if len(h.pub.Discovered) != 2 {
		t.Errorf("expected discovery republished, got %v", h.pub.Discovered)
	}
}

func TestPublishFailureDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, testConfig(med("vitamin-c", "Vitamin C", 8)), nil)
	h.pub.PublishError = errTest
	h.pub.PublishSystemError = errTest
	h.store.SaveErr = errTest
	h.t.start()

	l := startLoop(h)
	res := l.send(t, medicine.Command{Action: medicine.ActionTake, Targets: []string{"vitamin-c"}})
	l.stop(t)
	if res.Err != nil || len(res.States) != 1 {
		t.Errorf("command should still apply: %+v", res)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")

func TestPrintState(t *testing.T) {
	store := storage.NewFakeStore()
	store.Save(context.Background(), storage.Record{ID: "vitamin-c", History: []string{"2020-01-01T08:00:00Z"}})
	cfg := testConfig(med("vitamin-c", "Vitamin C", 8), med("aspirin", "Aspirin", 21))

	var buf bytes.Buffer
	if err := printState(&buf, cfg, store, zerolog.Nop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "Vitamin C: ") || !strings.Contains(lines[0], "last taken") {
		t.Errorf("line 0: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "Aspirin: ") || strings.Contains(lines[1], "last taken") {
		t.Errorf("line 1: %q", lines[1])
	}
}

func TestWriteReportCSV(t *testing.T) {
	store := storage.NewFakeStore()
	store.Save(context.Background(), storage.Record{
		ID:      "vitamin-c",
		History: []string{"2024-01-01T08:00:00+02:00"},
		Status:  "Due Tomorrow",
	})
	cfg := testConfig(med("vitamin-c", "Vitamin C", 8))
	path := filepath.Join(t.TempDir(), "history.csv")

	if err := writeReport(path, cfg, store); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 2 || rows[1][1] != "Vitamin C" || rows[1][2] != "2024-01-01T08:00:00+02:00" {
		t.Errorf("rows: %v", rows)
	}
}

func TestWriteReportErrors(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	if err := writeReport(filepath.Join(dir, "r.csv"), cfg, nil); err == nil {
		t.Error("expected error when storage is disabled")
	}
	if err := writeReport(filepath.Join(dir, "r.txt"), cfg, storage.NewFakeStore()); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestStatusConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = ""
	cfg.HTTP.Addr = ":8080"
	got := statusConfig(cfg)
	if got.Storage != "none" || got.HTTPAddr != ":8080" || got.RefreshMs != 60000 || got.Timezone != "HOME" {
		t.Errorf("got %+v", got)
	}
}

func TestNopPublisher(t *testing.T) {
	var p mqtt.Publisher = nopPublisher{}
	if err := p.PublishState(medicine.State{}); err != nil {
		t.Error(err)
	}
	if err := p.PublishSystem(mqtt.SystemEvent{Event: "STARTUP"}); err != nil {
		t.Error(err)
	}
}
