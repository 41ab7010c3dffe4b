// Package config defines tracktile's TOML configuration, following the
// teacher's per-subsystem Config/Validate()/LogFields() idiom: each field
// group validates independently and falls back to a logged default rather
// than failing the whole process over one bad value.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/tracktile/tracktile/accesslist"
	"github.com/tracktile/tracktile/pkg/log"
)

// Frontend selects which wire protocol this process's socket workers speak.
// The two frontends are sibling deployments of the same core, per spec §1,
// so a single process runs exactly one.
type Frontend string

const (
	FrontendUDP       Frontend = "udp"
	FrontendWebSocket Frontend = "websocket"
)

// Config is the top-level TOML document, matching spec.md §6's key list.
type Config struct {
	Frontend              Frontend      `toml:"frontend"`
	SocketWorkers         int           `toml:"socket_workers"`
	RequestWorkers        int           `toml:"request_workers"`
	WorkerChannelSize     int           `toml:"worker_channel_size"`
	PeerAnnounceInterval  time.Duration `toml:"peer_announce_interval"`
	ToleranceFactor       float64       `toml:"tolerance_factor"`
	MaxPeers              int           `toml:"max_peers"`
	MaxScrapeTorrents     int           `toml:"max_scrape_torrents"`
	ConnectionIDLifetime  time.Duration `toml:"connection_id_lifetime"`
	CleaningInterval      time.Duration `toml:"cleaning_interval"`
	MaxConnectionAge      time.Duration `toml:"max_connection_age"`
	MaxReceiveBatch       int           `toml:"max_receive_batch"`
	MetricsAddr           string        `toml:"metrics_addr"`

	AccessList AccessListConfig `toml:"access_list"`
	Network    NetworkConfig    `toml:"network"`
	Statistics StatisticsConfig `toml:"statistics"`
}

// AccessListConfig configures the access list subsystem (§4.1).
type AccessListConfig struct {
	Mode accesslist.Mode `toml:"mode"`
	Path string          `toml:"path"`
}

// NetworkConfig configures the listening socket.
type NetworkConfig struct {
	Address                string `toml:"address"`
	UseTLS                 bool   `toml:"use_tls"`
	TLSPKCS12Path          string `toml:"tls_pkcs12_path"`
	PollTimeoutMilliseconds int   `toml:"poll_timeout_milliseconds"`
	PollEventCapacity      int    `toml:"poll_event_capacity"`
}

// StatisticsConfig configures the statistics collector (§4.7).
type StatisticsConfig struct {
	Interval time.Duration `toml:"interval"`
	Active   bool          `toml:"active"`
}

// Default config constants, applied by Validate for any non-positive field
// (worker_channel_size only when negative: 0 is kept and means unbounded).
const (
	defaultSocketWorkers        = 2
	defaultRequestWorkers       = 4
	defaultWorkerChannelSize    = 1024
	defaultPeerAnnounceInterval = 2 * time.Minute
	defaultToleranceFactor      = 2.0
	defaultMaxPeers             = 50
	defaultMaxScrapeTorrents    = 74
	defaultConnectionIDLifetime = 2 * time.Minute
	defaultCleaningInterval     = 30 * time.Second
	defaultMaxConnectionAge     = 5 * time.Minute
	defaultMaxReceiveBatch      = 128
	defaultPollTimeoutMillis    = 50
	defaultPollEventCapacity    = 1024
	defaultStatisticsInterval   = time.Second
)

// Default loads a Config pre-populated with every default, equivalent to
// Validate()'ing a completely empty Config. print-config dumps this as a
// starting point for operators.
func Default() Config {
	return Config{}.Validate()
}

// LoadFromPath reads and parses a TOML config file, then validates it.
func LoadFromPath(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg.Validate(), nil
}

// Validate sanity checks every field and returns a new Config with defaults
// substituted for anything invalid, logging a warning for each substitution
// — the same "never fail a whole process over one bad tunable" idiom the
// teacher uses for its per-subsystem configs.
func (cfg Config) Validate() Config {
	v := cfg

	warn := func(name string, provided, fallback interface{}) {
		log.With("config").Warn().
			Str("name", name).
			Interface("provided", provided).
			Interface("default", fallback).
			Msg("falling back to default configuration")
	}

	if v.Frontend != FrontendUDP && v.Frontend != FrontendWebSocket {
		warn("frontend", cfg.Frontend, FrontendUDP)
		v.Frontend = FrontendUDP
	}
	if v.SocketWorkers <= 0 {
		warn("socket_workers", cfg.SocketWorkers, defaultSocketWorkers)
		v.SocketWorkers = defaultSocketWorkers
	}
	if v.RequestWorkers <= 0 {
		warn("request_workers", cfg.RequestWorkers, defaultRequestWorkers)
		v.RequestWorkers = defaultRequestWorkers
	}
	if v.WorkerChannelSize < 0 {
		warn("worker_channel_size", cfg.WorkerChannelSize, defaultWorkerChannelSize)
		v.WorkerChannelSize = defaultWorkerChannelSize
	}
	if v.PeerAnnounceInterval <= 0 {
		warn("peer_announce_interval", cfg.PeerAnnounceInterval, defaultPeerAnnounceInterval)
		v.PeerAnnounceInterval = defaultPeerAnnounceInterval
	}
	if v.ToleranceFactor <= 0 {
		warn("tolerance_factor", cfg.ToleranceFactor, defaultToleranceFactor)
		v.ToleranceFactor = defaultToleranceFactor
	}
	if v.MaxPeers <= 0 {
		warn("max_peers", cfg.MaxPeers, defaultMaxPeers)
		v.MaxPeers = defaultMaxPeers
	}
	if v.MaxScrapeTorrents <= 0 {
		warn("max_scrape_torrents", cfg.MaxScrapeTorrents, defaultMaxScrapeTorrents)
		v.MaxScrapeTorrents = defaultMaxScrapeTorrents
	}
	if v.ConnectionIDLifetime <= 0 {
		warn("connection_id_lifetime", cfg.ConnectionIDLifetime, defaultConnectionIDLifetime)
		v.ConnectionIDLifetime = defaultConnectionIDLifetime
	}
	if v.CleaningInterval <= 0 {
		warn("cleaning_interval", cfg.CleaningInterval, defaultCleaningInterval)
		v.CleaningInterval = defaultCleaningInterval
	}
	if v.MaxConnectionAge <= 0 {
		warn("max_connection_age", cfg.MaxConnectionAge, defaultMaxConnectionAge)
		v.MaxConnectionAge = defaultMaxConnectionAge
	}
	if v.MaxReceiveBatch <= 0 {
		warn("max_receive_batch", cfg.MaxReceiveBatch, defaultMaxReceiveBatch)
		v.MaxReceiveBatch = defaultMaxReceiveBatch
	}

	if v.AccessList.Mode == "" {
		warn("access_list.mode", cfg.AccessList.Mode, accesslist.Ignore)
		v.AccessList.Mode = accesslist.Ignore
	}

	if v.Network.Address == "" {
		warn("network.address", cfg.Network.Address, ":6969")
		v.Network.Address = ":6969"
	}
	if v.Network.PollTimeoutMilliseconds <= 0 {
		warn("network.poll_timeout_milliseconds", cfg.Network.PollTimeoutMilliseconds, defaultPollTimeoutMillis)
		v.Network.PollTimeoutMilliseconds = defaultPollTimeoutMillis
	}
	if v.Network.PollEventCapacity <= 0 {
		warn("network.poll_event_capacity", cfg.Network.PollEventCapacity, defaultPollEventCapacity)
		v.Network.PollEventCapacity = defaultPollEventCapacity
	}

	if v.Statistics.Interval <= 0 {
		warn("statistics.interval", cfg.Statistics.Interval, defaultStatisticsInterval)
		v.Statistics.Interval = defaultStatisticsInterval
	}

	return v
}

// LogFields renders cfg as zerolog fields for a single startup log line.
func (cfg Config) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"frontend":             cfg.Frontend,
		"socketWorkers":        cfg.SocketWorkers,
		"requestWorkers":       cfg.RequestWorkers,
		"workerChannelSize":    cfg.WorkerChannelSize,
		"peerAnnounceInterval": cfg.PeerAnnounceInterval,
		"maxPeers":             cfg.MaxPeers,
		"maxScrapeTorrents":    cfg.MaxScrapeTorrents,
		"connectionIDLifetime": cfg.ConnectionIDLifetime,
		"cleaningInterval":     cfg.CleaningInterval,
		"maxConnectionAge":     cfg.MaxConnectionAge,
		"accessListMode":       cfg.AccessList.Mode,
		"accessListPath":       cfg.AccessList.Path,
		"networkAddress":       cfg.Network.Address,
		"statisticsActive":     cfg.Statistics.Active,
	}
}

// Marshal renders cfg back to TOML, used by the print-config subcommand.
func (cfg Config) Marshal() ([]byte, error) {
	return toml.Marshal(cfg)
}
