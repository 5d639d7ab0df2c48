// Package config loads the device configuration.
//
// Files are CUE, YAML or JSON and are unified with an embedded CUE schema
// that supplies defaults and rejects unknown or out-of-range fields.
package config

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Config is the resolved configuration of one device.
type Config struct {
	DeviceID    string
	DeviceName  string
	Database    string
	Listen      string
	Port        int
	Service     string
	Domain      string
	PeerTTL     time.Duration
	LogLevel    string
	LogFormat   string
	SyncTimeout time.Duration
	Backoff     Backoff
	MetricsAddr string

	LegacyDurationDefault bool
}

// Backoff is the per-peer sync retry policy.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxTries   uint
}

// Addr returns the sync listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}

// Error is a configuration failure, positioned in the source file when
// CUE reports a position.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return "config: " + e.Message
}

// wire mirrors #Config for decoding.
type wire struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	Database    string `json:"database"`
	Listen      string `json:"listen"`
	Port        int    `json:"port"`
	Service     string `json:"service"`
	Domain      string `json:"domain"`
	PeerTTL     string `json:"peerTTL"`
	LogLevel    string `json:"logLevel"`
	LogFormat   string `json:"logFormat"`
	SyncTimeout string `json:"syncTimeout"`
	Backoff     struct {
		Initial    string  `json:"initial"`
		Max        string  `json:"max"`
		Multiplier float64 `json:"multiplier"`
		MaxTries   uint    `json:"maxTries"`
	} `json:"backoff"`
	MetricsAddr string `json:"metricsAddr"`

	LegacyDurationDefault bool `json:"legacyDurationDefault"`
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Parse("", nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return cfg
}

// Load reads path and resolves it against the schema. An empty path
// yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(path, data)
}

// Parse resolves data against the schema. The format is chosen by the
// extension of filename: .cue and .json as CUE, .yaml and .yml as YAML.
func Parse(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, cueError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) > 0 {
		user, err := compileUser(ctx, filename, data)
		if err != nil {
			return Config{}, err
		}
		v = v.Unify(user)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError(err)
	}
	var w wire
	if err := v.Decode(&w); err != nil {
		return Config{}, cueError(err)
	}
	return w.resolve()
}

func compileUser(ctx *cue.Context, filename string, data []byte) (cue.Value, error) {
	switch ext := filepath.Ext(filename); ext {
	case ".cue", ".json":
		v := ctx.CompileBytes(data, cue.Filename(filename))
		if err := v.Err(); err != nil {
			return cue.Value{}, cueError(err)
		}
		return v, nil
	case ".yaml", ".yml":
		file, err := yaml.Extract(filename, data)
		if err != nil {
			return cue.Value{}, cueError(err)
		}
		v := ctx.BuildFile(file)
		if err := v.Err(); err != nil {
			return cue.Value{}, cueError(err)
		}
		return v, nil
	default:
		return cue.Value{}, &Error{Message: fmt.Sprintf("unsupported config format %q", ext)}
	}
}

func (w wire) resolve() (Config, error) {
	durations := map[string]string{
		"peerTTL":         w.PeerTTL,
		"syncTimeout":     w.SyncTimeout,
		"backoff.initial": w.Backoff.Initial,
		"backoff.max":     w.Backoff.Max,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for field, s := range durations {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Config{}, &Error{Message: fmt.Sprintf("%s: %v", field, err)}
		}
		parsed[field] = d
	}

	return Config{
		DeviceID:    w.DeviceID,
		DeviceName:  w.DeviceName,
		Database:    w.Database,
		Listen:      w.Listen,
		Port:        w.Port,
		Service:     w.Service,
		Domain:      w.Domain,
		PeerTTL:     parsed["peerTTL"],
		LogLevel:    w.LogLevel,
		LogFormat:   w.LogFormat,
		SyncTimeout: parsed["syncTimeout"],
		Backoff: Backoff{
			Initial:    parsed["backoff.initial"],
			Max:        parsed["backoff.max"],
			Multiplier: w.Backoff.Multiplier,
			MaxTries:   w.Backoff.MaxTries,
		},
		MetricsAddr: w.MetricsAddr,

		LegacyDurationDefault: w.LegacyDurationDefault,
	}, nil
}

// cueError converts the first CUE error to *Error with its position.
func cueError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		out.Pos = pos[0]
	}
	return out
}
