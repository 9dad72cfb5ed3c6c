// Command medicine-tracker tracks medication schedules and publishes their
// due state to MQTT, an HTTP status page and an optional Telegram bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/config"
	"github.com/sweeney/medicine-tracker/internal/gpio"
	"github.com/sweeney/medicine-tracker/internal/logx"
	"github.com/sweeney/medicine-tracker/internal/medicine"
	"github.com/sweeney/medicine-tracker/internal/mqtt"
	"github.com/sweeney/medicine-tracker/internal/report"
	"github.com/sweeney/medicine-tracker/internal/sensors"
	"github.com/sweeney/medicine-tracker/internal/status"
	"github.com/sweeney/medicine-tracker/internal/storage"
	"github.com/sweeney/medicine-tracker/internal/telegram"
	"github.com/sweeney/medicine-tracker/internal/web"
)

const (
	defaultConfigPath = "/etc/medicine-tracker/config.yaml"
	commandQueueSize  = 16
)

type options struct {
	configPath string
	printState bool
	reportPath string
	logLevel   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the YAML or JSON configuration")
	flag.BoolVar(&opts.printState, "print-state", false, "Print the current state of every medicine and exit")
	flag.StringVar(&opts.reportPath, "report", "", "Export history to a .pdf, .csv or .json file and exit")
	flag.StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	flag.Parse()

	if err := run(opts); err != nil {
		boot := logx.NewConsole("info")
		boot.Fatal().Err(err).Msg("fatal")
	}
}

func run(opts options) error {
	boot := logx.NewConsole(opts.logLevel)
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logCfg := logx.Config{Level: cfg.Log.Level, Console: cfg.Log.Console, File: cfg.Log.File}
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	logger, err := logx.New(logCfg)
	if err != nil {
		boot.Warn().Err(err).Msg("falling back to console logging")
		logger = &logx.Logger{Logger: boot}
	}
	defer logger.Close()
	log := logger.Logger

	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	store, err := storage.Open(storage.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
		DSN:    cfg.Storage.DSN,
	}, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	if opts.printState {
		return printState(os.Stdout, cfg, store, log)
	}
	if opts.reportPath != "" {
		return writeReport(opts.reportPath, cfg, store)
	}
	return serve(opts.configPath, cfg, store, log)
}

func serve(configPath string, cfg *config.Config, store storage.Store, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zones := sensors.NewCache()
	commands := make(chan medicine.Command, commandQueueSize)
	republish := make(chan struct{}, 1)

	// Initialize status tracker (before STARTUP so snapshot is available)
	st := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		st.SetNetwork(net)
	}

	var (
		publisher  mqtt.Publisher = nopPublisher{}
		subscriber mqtt.Subscriber
		connStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		client, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			Topics:     mqtt.NewTopics(cfg.MQTT.Prefix, cfg.MQTT.DiscoveryPrefix),
			BufferSize: cfg.MQTT.BufferSize,
			OnReconnect: func() {
				select {
				case republish <- struct{}{}:
				default:
				}
			},
			Log: log,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer client.Close()
		publisher, subscriber, connStatus = client, client, client
	} else {
		log.Warn().Msg("no mqtt broker configured; state is only served locally")
	}

	handlers := func(c *config.Config) mqtt.Handlers {
		h := mqtt.Handlers{
			OnCommand: func(cmd medicine.Command) {
				select {
				case commands <- cmd:
				default:
					log.Warn().Str("source", cmd.Source).Msg("command queue full; dropping command")
				}
			},
			OnZone:   zones.Set,
			Location: c.Location,
		}
		if c.TZSensor != "" {
			h.ZoneTopics = []string{c.TZSensor}
		}
		return h
	}
	if subscriber != nil {
		if err := subscriber.Subscribe(handlers(cfg)); err != nil {
			log.Warn().Err(err).Msg("mqtt subscribe failed")
		}
	}

	t := &tracker{
		cfg:        cfg,
		publisher:  publisher,
		mqttStatus: connStatus,
		status:     st,
		store:      store,
		zones:      zones,
		notify:     sdNotify,
		network:    readNetworkInfo,
		log:        log,
	}
	if subscriber != nil {
		t.onReload = func(c *config.Config) {
			if err := subscriber.Subscribe(handlers(c)); err != nil {
				log.Warn().Err(err).Msg("mqtt resubscribe failed")
			}
		}
	}
	t.init()
	t.start()

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, st, web.Options{
			Commands:   commands,
			Location:   cfg.Location,
			RatePerSec: cfg.HTTP.RatePerSec,
			Log:        log,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	if cfg.Telegram.Token != "" {
		h := telegram.NewHandler(telegram.HandlerOptions{
			Commands:     commands,
			Tracker:      st,
			AllowedChats: cfg.Telegram.AllowedChats,
			RatePerSec:   cfg.Telegram.RatePerSec,
			Location:     cfg.Location,
			Log:          log,
		})
		bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.PollTimeout, h, log)
		if err != nil {
			log.Error().Err(err).Msg("telegram disabled")
		} else {
			go bot.Run(ctx)
		}
	}

	if len(cfg.Button.Pins) > 0 {
		if err := startButtons(ctx, cfg.Button, commands, log); err != nil {
			log.Error().Err(err).Msg("buttons disabled")
		}
	}

	reloads := make(chan *config.Config)
	watcher := config.NewWatcher(configPath, log)
	watcher.Prime()
	go func() {
		if err := watcher.Run(ctx, reloads); err != nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	refresh := time.NewTicker(cfg.Refresh)
	defer refresh.Stop()
	in := inputs{
		refresh:   refresh.C,
		commands:  commands,
		reloads:   reloads,
		republish: republish,
	}
	if cfg.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Heartbeat)
		defer hb.Stop()
		in.heartbeat = hb.C
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		wd := time.NewTicker(interval / 2)
		defer wd.Stop()
		in.watchdog = wd.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	in.sig = sigCh

	log.Info().
		Int("medicines", len(cfg.Medicines)).
		Dur("refresh", cfg.Refresh).
		Dur("heartbeat", cfg.Heartbeat).
		Str("broker", cfg.MQTT.Broker).
		Str("timezone", cfg.Location.String()).
		Msg("started")
	sdNotify(daemon.SdNotifyReady)

	return t.run(ctx, in)
}

func startButtons(ctx context.Context, cfg config.Button, out chan<- medicine.Command, log zerolog.Logger) error {
	pins := make([]int, 0, len(cfg.Pins))
	for pin := range cfg.Pins {
		pins = append(pins, pin)
	}
	reader, err := gpio.NewRealReader(cfg.Chip, pins)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	buttons := gpio.NewButtons(reader, cfg.Pins, cfg.Poll, cfg.Debounce, log)
	go func() {
		defer reader.Close()
		if err := buttons.Run(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("button poller stopped")
		}
	}()
	log.Info().Ints("pins", buttons.Pins()).Str("chip", cfg.Chip).Msg("buttons enabled")
	return nil
}

// printState computes every medicine once and prints one line each.
func printState(w io.Writer, cfg *config.Config, store storage.Store, log zerolog.Logger) error {
	t := &tracker{cfg: cfg, store: store, log: log}
	t.init()
	t.reg.Refresh()
	for _, st := range t.reg.States() {
		line := fmt.Sprintf("%s: %s", st.Name, st.Due.Label)
		if st.Due.HasNextDue() {
			line += " (next due " + st.Due.NextDue.Format("Mon 2006-01-02 15:04 MST") + ")"
		}
		if last, ok := st.LastTaken(); ok {
			line += " last taken " + last.In(cfg.Location).Format("Mon 2006-01-02 15:04")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeReport(path string, cfg *config.Config, store storage.Store) error {
	if store == nil {
		return errors.New("report: storage is disabled")
	}
	format, err := report.FormatForPath(path)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(cfg.Medicines))
	for _, mc := range cfg.Medicines {
		names[mc.ID] = mc.Name
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	data, err := report.NewExporter(store, names).Export(ctx, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// nopPublisher is used when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) PublishState(medicine.State) error { return nil }
func (nopPublisher) PublishDiscovery([]medicine.State) error { return nil }
func (nopPublisher) RemoveMedicine(string) error { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
