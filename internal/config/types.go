// Package config loads the daemon configuration from YAML or JSON and
// watches it for changes.
package config

import (
	"time"

	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// File is the on-disk configuration. Unknown fields are rejected.
type File struct {
	// Timezone is the system default zone (IANA name). Empty means the host zone.
	Timezone string `json:"timezone"`
	Patient  Patient `json:"patient"`
	// TZSensor is the global zone source used by local_time medicines.
	TZSensor  string         `json:"tz_sensor"`
	Refresh   string         `json:"refresh"`
	Heartbeat string         `json:"heartbeat"`
	MQTT      MQTTFile       `json:"mqtt"`
	HTTP      HTTPFile       `json:"http"`
	Storage   StorageFile    `json:"storage"`
	Telegram  TelegramFile   `json:"telegram"`
	Button    ButtonFile     `json:"button"`
	Log       LogFile        `json:"log"`
	Medicines []MedicineFile `json:"medicines"`
}

// Patient identifies whose medicines these are.
type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MedicineFile is one medicine entry.
type MedicineFile struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Icon     string   `json:"icon"`
	Dosage   string   `json:"dosage"`
	Time     string   `json:"time"`
	Days     []string `json:"days"`
	TimeMode string   `json:"time_mode"`
}

type MQTTFile struct {
	Broker          string `json:"broker"`
	ClientID        string `json:"client_id"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Prefix          string `json:"prefix"`
	DiscoveryPrefix string `json:"discovery_prefix"`
	Discovery       *bool  `json:"discovery"`
	BufferSize      int    `json:"buffer_size"`
}

type HTTPFile struct {
	Addr       string `json:"addr"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageFile struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
}

type TelegramFile struct {
	Token        string  `json:"token"`
	AllowedChats []int64 `json:"allowed_chats"`
	PollTimeout  string  `json:"poll_timeout"`
	RatePerSec   int     `json:"rate_per_sec"`
}

type ButtonFile struct {
	Chip     string            `json:"chip"`
	Pins     map[string]string `json:"pins"`
	Poll     string            `json:"poll"`
	Debounce string            `json:"debounce"`
}

type LogFile struct {
	Level   string `json:"level"`
	Console *bool  `json:"console"`
	File    string `json:"file"`
}

// Config is the validated, defaulted configuration.
type Config struct {
	Location  *time.Location
	Patient   Patient
	TZSensor  string
	Refresh   time.Duration
	Heartbeat time.Duration
	MQTT      MQTT
	HTTP      HTTP
	Storage   Storage
	Telegram  Telegram
	Button    Button
	Log       Log
	Medicines []medicine.Config
	// Warnings lists non-fatal problems found while loading.
	Warnings []string
}

type MQTT struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	Prefix          string
	DiscoveryPrefix string
	Discovery       bool
	BufferSize      int
}

type HTTP struct {
	Addr       string
	RatePerSec int
}

type Storage struct {
	Driver string
	Path   string
	DSN    string
}

type Telegram struct {
	Token        string
	AllowedChats []int64
	PollTimeout  time.Duration
	RatePerSec   int
}

type Button struct {
	Chip string
	// Pins maps a BCM line offset to a medicine target.
	Pins     map[int]string
	Poll     time.Duration
	Debounce time.Duration
}

type Log struct {
	Level   string
	Console bool
	File    string
}

// Defaults.
const (
	DefaultRefresh         = time.Minute
	DefaultHeartbeat       = 15 * time.Minute
	DefaultPrefix          = "medicine_tracker"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultClientID        = "medicine-tracker"
	DefaultBufferSize      = 100
	DefaultRatePerSec      = 5
	DefaultChip            = "gpiochip0"
	DefaultButtonPoll      = 50 * time.Millisecond
	DefaultButtonDebounce  = 100 * time.Millisecond
	DefaultPollTimeout     = 10 * time.Second
)
