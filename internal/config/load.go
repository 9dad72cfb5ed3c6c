package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// Load reads, decodes and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return f.Resolve()
}

// Parse decodes config bytes. The path extension selects YAML or JSON.
func Parse(path string, data []byte) (*File, error) {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &f, nil
}

// Resolve validates the file and applies defaults.
func (f *File) Resolve() (*Config, error) {
	cfg := &Config{
		Patient:  f.Patient,
		TZSensor: strings.TrimSpace(f.TZSensor),
	}

	loc, err := loadLocation(f.Timezone)
	if err != nil {
		return nil, err
	}
	cfg.Location = loc

	if cfg.Refresh, err = durationOrDefault("refresh", f.Refresh, DefaultRefresh); err != nil {
		return nil, err
	}
	if cfg.Heartbeat, err = durationOrDefault("heartbeat", f.Heartbeat, DefaultHeartbeat); err != nil {
		return nil, err
	}

	cfg.MQTT = MQTT{
		Broker:          strings.TrimSpace(f.MQTT.Broker),
		ClientID:        orDefault(f.MQTT.ClientID, DefaultClientID),
		Username:        f.MQTT.Username,
		Password:        f.MQTT.Password,
		Prefix:          strings.Trim(orDefault(f.MQTT.Prefix, DefaultPrefix), "/"),
		DiscoveryPrefix: strings.Trim(orDefault(f.MQTT.DiscoveryPrefix, DefaultDiscoveryPrefix), "/"),
		Discovery:       f.MQTT.Discovery == nil || *f.MQTT.Discovery,
		BufferSize:      f.MQTT.BufferSize,
	}
	if cfg.MQTT.BufferSize <= 0 {
		cfg.MQTT.BufferSize = DefaultBufferSize
	}

	cfg.HTTP = HTTP{Addr: strings.TrimSpace(f.HTTP.Addr), RatePerSec: f.HTTP.RatePerSec}
	if cfg.HTTP.RatePerSec <= 0 {
		cfg.HTTP.RatePerSec = DefaultRatePerSec
	}

	cfg.Storage = Storage{
		Driver: strings.ToLower(strings.TrimSpace(f.Storage.Driver)),
		Path:   strings.TrimSpace(f.Storage.Path),
		DSN:    strings.TrimSpace(f.Storage.DSN),
	}
	switch cfg.Storage.Driver {
	case "", "none", "file", "sqlite", "sqlite3", "mysql":
	default:
		return nil, fmt.Errorf("storage.driver: unknown driver %q", f.Storage.Driver)
	}

	if cfg.Telegram, err = resolveTelegram(f.Telegram); err != nil {
		return nil, err
	}
	if cfg.Button, err = resolveButton(f.Button); err != nil {
		return nil, err
	}

	cfg.Log = Log{
		Level:   orDefault(f.Log.Level, "info"),
		Console: f.Log.Console == nil || *f.Log.Console,
		File:    strings.TrimSpace(f.Log.File),
	}

	seen := make(map[string]bool)
	owners := make(map[string]string) // id or entity id -> medicine id
	for i, mf := range f.Medicines {
		mc, warnings, err := resolveMedicine(i, mf, f.Patient, cfg.TZSensor)
		if err != nil {
			return nil, err
		}
		if seen[mc.ID] {
			return nil, fmt.Errorf("medicines[%d]: duplicate id %q", i, mc.ID)
		}
		seen[mc.ID] = true
		for _, target := range []string{mc.ID, mc.EntityID()} {
			if owner, ok := owners[target]; ok && owner != mc.ID {
				return nil, fmt.Errorf("medicines[%d]: %q already names medicine %q", i, target, owner)
			}
			owners[target] = mc.ID
		}
		cfg.Medicines = append(cfg.Medicines, mc)
		cfg.Warnings = append(cfg.Warnings, warnings...)
	}
	return cfg, nil
}

func resolveMedicine(i int, mf MedicineFile, patient Patient, tzSensor string) (medicine.Config, []string, error) {
	var warnings []string
	path := fmt.Sprintf("medicines[%d]", i)

	name := strings.TrimSpace(mf.Name)
	if name == "" {
		return medicine.Config{}, nil, fmt.Errorf("%s: name is required", path)
	}

	tod := logic.DefaultTimeOfDay
	if strings.TrimSpace(mf.Time) != "" {
		if parsed, err := logic.ParseTimeOfDay(mf.Time); err == nil {
			tod = parsed
		} else {
			warnings = append(warnings, fmt.Sprintf("%s: %v; using %s", path, err, tod))
		}
	}

	mode := logic.TimezoneMode(strings.TrimSpace(mf.TimeMode))
	switch mode {
	case "":
		mode = logic.ModeFixed
	case logic.ModeFixed, logic.ModeFollowExternal:
	default:
		return medicine.Config{}, nil, fmt.Errorf("%s: unknown time_mode %q", path, mf.TimeMode)
	}
	if mode == logic.ModeFollowExternal && tzSensor == "" {
		warnings = append(warnings, fmt.Sprintf("%s: local_time without tz_sensor; using default timezone", path))
	}

	for _, d := range mf.Days {
		if _, ok := logic.ParseWeekday(d); !ok {
			warnings = append(warnings, fmt.Sprintf("%s: unknown day %q ignored", path, d))
		}
	}

	id := strings.TrimSpace(mf.ID)
	if id == "" {
		id = DeriveID(patient.ID, name)
	}

	return medicine.Config{
		ID:          id,
		Name:        name,
		Icon:        orDefault(mf.Icon, medicine.DefaultIcon),
		Dosage:      mf.Dosage,
		PatientID:   patient.ID,
		PatientName: orDefault(patient.Name, patient.ID),
		Schedule: logic.Schedule{
			Time:       tod,
			Days:       append([]string(nil), mf.Days...),
			Mode:       mode,
			ZoneSource: tzSensor,
		},
	}, warnings, nil
}

// idNamespace scopes derived medicine ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:medicine-tracker"))

// DeriveID returns a stable id for a medicine without an explicit one, so
// persisted history survives restarts.
func DeriveID(patientID, name string) string {
	return uuid.NewSHA1(idNamespace, []byte(patientID+"\x00"+strings.ToLower(name))).String()
}

func resolveTelegram(f TelegramFile) (Telegram, error) {
	t := Telegram{
		Token:        strings.TrimSpace(f.Token),
		AllowedChats: append([]int64(nil), f.AllowedChats...),
		RatePerSec:   f.RatePerSec,
	}
	var err error
	if t.PollTimeout, err = durationOrDefault("telegram.poll_timeout", f.PollTimeout, DefaultPollTimeout); err != nil {
		return Telegram{}, err
	}
	if t.RatePerSec <= 0 {
		t.RatePerSec = DefaultRatePerSec
	}
	return t, nil
}

func resolveButton(f ButtonFile) (Button, error) {
	b := Button{Chip: orDefault(f.Chip, DefaultChip)}
	var err error
	if b.Poll, err = durationOrDefault("button.poll", f.Poll, DefaultButtonPoll); err != nil {
		return Button{}, err
	}
	if b.Debounce, err = durationOrDefault("button.debounce", f.Debounce, DefaultButtonDebounce); err != nil {
		return Button{}, err
	}
	if len(f.Pins) > 0 {
		b.Pins = make(map[int]string, len(f.Pins))
	}
	for k, target := range f.Pins {
		pin, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || pin < 0 {
			return Button{}, fmt.Errorf("button.pins: invalid line %q", k)
		}
		b.Pins[pin] = strings.TrimSpace(target)
	}
	return b, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

func durationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
