// Package config loads bitonic command settings from TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/bitonic"
)

// DefaultFile is the settings file looked up when no path is given.
const DefaultFile = "bitonic.toml"

// Config holds the settings of one bitonic run. Flags override file values.
type Config struct {
	// Elements is the number of elements to sort.
	Elements uint32 `toml:"elements"`

	// Seed seeds the shuffle. Zero picks a random seed.
	Seed uint64 `toml:"seed"`

	// Interval is the delay between steps of a complete sort.
	Interval Duration `toml:"interval"`

	// MaxWorkgroupSize caps the workgroup size used for element counts.
	MaxWorkgroupSize uint32 `toml:"max_workgroup_size"`

	// GPU selects the wgpu device when an adapter is available.
	GPU bool `toml:"gpu"`

	Display Display `toml:"display"`
}

// Display holds image output settings.
type Display struct {
	Size   int    `toml:"size"`
	Output string `toml:"output"`
	Hover  int    `toml:"hover"`
}

// Duration is a time.Duration written as a Go duration string ("50ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Defaults returns the settings used when no file is present.
func Defaults() Config {
	return Config{
		Elements:         16,
		Interval:         Duration(50 * time.Millisecond),
		MaxWorkgroupSize: bitonic.MaxThreads,
		GPU:              true,
		Display: Display{
			Size:  512,
			Hover: -1,
		},
	}
}

// Open reads settings from path on top of Defaults. A missing DefaultFile is
// not an error; a missing explicitly named file is.
func Open(path string) (Config, error) {
	cfg := Defaults()
	name := path
	if name == "" {
		name = DefaultFile
	}
	b, err := os.ReadFile(name)
	if err != nil {
		if path == "" && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := Decode(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", name, err)
	}
	return cfg, nil
}

// Decode decodes TOML into cfg and validates the result. Unknown keys are
// rejected.
func Decode(b []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate reports settings the sequencer or display would reject.
func (c Config) Validate() error {
	if err := bitonic.ValidateElementCount(c.Elements); err != nil {
		return err
	}
	if c.Elements/2 > c.MaxWorkgroupSize {
		return fmt.Errorf("%w: %d elements need a workgroup of %d, max is %d",
			bitonic.ErrInvalidElementCount, c.Elements, c.Elements/2, c.MaxWorkgroupSize)
	}
	if c.Interval < 0 {
		return fmt.Errorf("negative interval %s", time.Duration(c.Interval))
	}
	if c.Display.Size < 0 {
		return fmt.Errorf("negative display size %d", c.Display.Size)
	}
	return nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg Config) error {
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil { //nolint:gosec // settings file is not secret
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
