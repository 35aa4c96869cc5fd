// Package config loads weave's runtime Options: the network-settings
// struct from spec.md §6 plus store/remote backend selection, layered
// lowest-to-highest precedence as built-in defaults, a weave.toml file,
// WEAVE_-prefixed environment variables, and explicit overrides.
//
// Grounded on internal/turso/daemon.Config's flat struct-of-knobs shape
// (internal/turso/daemon/daemon.go's Config/DefaultConfig), generalized
// from a single hardcoded default to a layered loader since nothing in
// the teacher reads configuration from a file or environment — the
// layering itself follows viper's own documented precedence order.
package config

import (
	"fmt"
	"strings"

	"github.com/AlekSi/pointer"
	"github.com/spf13/viper"
)

// NetworkSettings is spec.md §6's reconnect/election/heartbeat knob
// set, embedded verbatim in Options.
type NetworkSettings struct {
	InitialDelayMs             int
	ReconnectBackoffMultiplier float64
	MaxReconnectDelayMs        int
	ElectionTimeoutMs          int
	HeartbeatIntervalMs        int
	HeartbeatTimeoutMs         int
}

// Options is weave's full runtime configuration.
type Options struct {
	NetworkSettings

	// BufferMs is the engine's flush-coalescing delay; reference value
	// 0 means "next turn".
	BufferMs int

	// RemoteBatchSize is loaded with reference value 5. The store
	// backends batch CommitsForRemote by the fixed store.BatchSize and
	// do not read this field.
	RemoteBatchSize int

	// StoreBackend selects a LocalStore implementation: "sqlite" or
	// "memory".
	StoreBackend string

	// StorePath is the sqlite backend's database file path. Ignored by
	// the memory backend.
	StorePath string

	// RemoteBackend selects a Remote implementation: "ws", "libsql", or
	// "" for no remote configured.
	RemoteBackend string

	// RemoteURL is the ws backend's dial target, or the libsql backend's
	// primary URL.
	RemoteURL string

	// RemoteAuthToken authenticates with the remote backend, if set.
	RemoteAuthToken string

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// LogDir is the directory lumberjack rotates log files into.
	LogDir string
}

// Defaults returns weave's built-in defaults, matching the reference
// values spec.md §4/§6 call out.
func Defaults() Options {
	return Options{
		NetworkSettings: NetworkSettings{
			InitialDelayMs:             500,
			ReconnectBackoffMultiplier: 2,
			MaxReconnectDelayMs:        30_000,
			ElectionTimeoutMs:          200,
			HeartbeatIntervalMs:        1000,
			HeartbeatTimeoutMs:         3000,
		},
		BufferMs:        0,
		RemoteBatchSize: 5,
		StoreBackend:    "sqlite",
		StorePath:       "weave.db",
		RemoteBackend:   "",
		LogLevel:        "info",
		LogDir:          ".",
	}
}

// Override holds explicit overrides, applied last and highest
// precedence. Every field is a pointer so "not set" and "set to the
// zero value" are distinguishable, the way AlekSi/pointer's helpers
// (pointer.ToInt, pointer.ToString, ...) are meant to be constructed.
type Override struct {
	InitialDelayMs             *int
	ReconnectBackoffMultiplier *float64
	MaxReconnectDelayMs        *int
	ElectionTimeoutMs          *int
	HeartbeatIntervalMs        *int
	HeartbeatTimeoutMs         *int
	BufferMs                   *int
	RemoteBatchSize            *int
	StoreBackend               *string
	StorePath                  *string
	RemoteBackend              *string
	RemoteURL                  *string
	RemoteAuthToken            *string
	LogLevel                   *string
	LogDir                     *string
}

// Load layers Defaults(), an optional TOML file (the first of paths
// that exists; pass none to skip file loading), WEAVE_-prefixed
// environment variables, and ov (nil is fine), in that order of
// increasing precedence.
func Load(ov *Override, paths ...string) (*Options, error) {
	v := viper.New()
	v.SetConfigType("toml")

	def := Defaults()
	setDefaults(v, def)

	for _, p := range paths {
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err == nil {
			break
		} else if !isNotFound(err) {
			return nil, fmt.Errorf("config: read %s: %w", p, err)
		}
	}

	v.SetEnvPrefix("WEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	opts := Options{
		NetworkSettings: NetworkSettings{
			InitialDelayMs:             v.GetInt("network.initialdelayms"),
			ReconnectBackoffMultiplier: v.GetFloat64("network.reconnectbackoffmultiplier"),
			MaxReconnectDelayMs:        v.GetInt("network.maxreconnectdelayms"),
			ElectionTimeoutMs:          v.GetInt("network.electiontimeoutms"),
			HeartbeatIntervalMs:        v.GetInt("network.heartbeatintervalms"),
			HeartbeatTimeoutMs:         v.GetInt("network.heartbeattimeoutms"),
		},
		BufferMs:        v.GetInt("engine.bufferms"),
		RemoteBatchSize: v.GetInt("engine.remotebatchsize"),
		StoreBackend:    v.GetString("store.backend"),
		StorePath:       v.GetString("store.path"),
		RemoteBackend:   v.GetString("remote.backend"),
		RemoteURL:       v.GetString("remote.url"),
		RemoteAuthToken: v.GetString("remote.authtoken"),
		LogLevel:        v.GetString("log.level"),
		LogDir:          v.GetString("log.dir"),
	}

	applyOverride(&opts, ov)
	return &opts, nil
}

func setDefaults(v *viper.Viper, d Options) {
	v.SetDefault("network.initialdelayms", d.InitialDelayMs)
	v.SetDefault("network.reconnectbackoffmultiplier", d.ReconnectBackoffMultiplier)
	v.SetDefault("network.maxreconnectdelayms", d.MaxReconnectDelayMs)
	v.SetDefault("network.electiontimeoutms", d.ElectionTimeoutMs)
	v.SetDefault("network.heartbeatintervalms", d.HeartbeatIntervalMs)
	v.SetDefault("network.heartbeattimeoutms", d.HeartbeatTimeoutMs)
	v.SetDefault("engine.bufferms", d.BufferMs)
	v.SetDefault("engine.remotebatchsize", d.RemoteBatchSize)
	v.SetDefault("store.backend", d.StoreBackend)
	v.SetDefault("store.path", d.StorePath)
	v.SetDefault("remote.backend", d.RemoteBackend)
	v.SetDefault("remote.url", d.RemoteURL)
	v.SetDefault("remote.authtoken", d.RemoteAuthToken)
	v.SetDefault("log.level", d.LogLevel)
	v.SetDefault("log.dir", d.LogDir)
}

func applyOverride(o *Options, ov *Override) {
	if ov == nil {
		return
	}
	if ov.InitialDelayMs != nil {
		o.InitialDelayMs = *ov.InitialDelayMs
	}
	if ov.ReconnectBackoffMultiplier != nil {
		o.ReconnectBackoffMultiplier = *ov.ReconnectBackoffMultiplier
	}
	if ov.MaxReconnectDelayMs != nil {
		o.MaxReconnectDelayMs = *ov.MaxReconnectDelayMs
	}
	if ov.ElectionTimeoutMs != nil {
		o.ElectionTimeoutMs = *ov.ElectionTimeoutMs
	}
	if ov.HeartbeatIntervalMs != nil {
		o.HeartbeatIntervalMs = *ov.HeartbeatIntervalMs
	}
	if ov.HeartbeatTimeoutMs != nil {
		o.HeartbeatTimeoutMs = *ov.HeartbeatTimeoutMs
	}
	if ov.BufferMs != nil {
		o.BufferMs = *ov.BufferMs
	}
	if ov.RemoteBatchSize != nil {
		o.RemoteBatchSize = *ov.RemoteBatchSize
	}
	if ov.StoreBackend != nil {
		o.StoreBackend = *ov.StoreBackend
	}
	if ov.StorePath != nil {
		o.StorePath = *ov.StorePath
	}
	if ov.RemoteBackend != nil {
		o.RemoteBackend = *ov.RemoteBackend
	}
	if ov.RemoteURL != nil {
		o.RemoteURL = *ov.RemoteURL
	}
	if ov.RemoteAuthToken != nil {
		o.RemoteAuthToken = *ov.RemoteAuthToken
	}
	if ov.LogLevel != nil {
		o.LogLevel = *ov.LogLevel
	}
	if ov.LogDir != nil {
		o.LogDir = *ov.LogDir
	}
}

func isNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}

// OverrideInt, OverrideFloat64, and OverrideString build Override
// pointer fields, e.g. from a flag value that was actually set (a cobra
// flag's Changed bool guarding the call). cmd/weavectl does not call
// them; it passes a nil Override to Load.
func OverrideInt(v int) *int           { return pointer.ToInt(v) }
func OverrideFloat64(v float64) *float64 { return pointer.ToFloat64(v) }
func OverrideString(v string) *string  { return pointer.ToString(v) }
