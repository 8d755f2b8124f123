package config

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/nbodysim/internal/camera"
	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/galaxy"
)

const (
	DefaultDt        = 1.0 / 60.0
	DefaultFrames    = 600
	DefaultG         = 2e-5
	DefaultBodies    = 2000
	DefaultMaxRadius = 1.0
	DefaultMaxPhi    = 0.1
	DefaultSeed      = 1

	KindGalaxy = "galaxy"
	KindUnit   = "unit"
)

type Config struct {
	Backend             string  `yaml:"backend"`
	Parallel            bool    `yaml:"parallel"`
	Seed                uint64  `yaml:"seed"`
	Dt                  float64 `yaml:"dt"`
	Frames              int     `yaml:"frames"`
	GravitationConstant float64 `yaml:"gravitation_constant"`

	Initial  InitialConfig   `yaml:"initial"`
	Controls camera.Controls `yaml:"controls"`
	Device   DeviceConfig    `yaml:"device"`
	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

type InitialConfig struct {
	Kind      string     `yaml:"kind"`
	Bodies    int        `yaml:"bodies"`
	MaxRadius float64    `yaml:"max_radius"`
	MaxPhi    float64    `yaml:"max_phi"`
	Up        [3]float64 `yaml:"up"`
}

type DeviceConfig struct {
	Workers int `yaml:"workers"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend:             "auto",
		Seed:                DefaultSeed,
		Dt:                  DefaultDt,
		Frames:              DefaultFrames,
		GravitationConstant: DefaultG,
		Initial: InitialConfig{
			Kind:      KindGalaxy,
			Bodies:    DefaultBodies,
			MaxRadius: DefaultMaxRadius,
			MaxPhi:    DefaultMaxPhi,
			Up:        [3]float64{0, 0, 1},
		},
		Controls: camera.DefaultControls(),
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func invalid(field string, v any) error {
	return fmt.Errorf("%w: %s = %v", dynamo.ErrInvalidParameter, field, v)
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "auto", "device", "host":
	default:
		return invalid("backend", c.Backend)
	}
	if !(c.Dt > 0) {
		return invalid("dt", c.Dt)
	}
	if c.Frames < 0 {
		return invalid("frames", c.Frames)
	}
	if c.GravitationConstant < 0 {
		return invalid("gravitation_constant", c.GravitationConstant)
	}
	if c.Device.Workers < 0 {
		return invalid("device.workers", c.Device.Workers)
	}
	switch c.Log.Encoding {
	case "", "console", "json":
	default:
		return invalid("log.encoding", c.Log.Encoding)
	}

	switch c.Initial.Kind {
	case KindUnit:
		return nil
	case KindGalaxy:
		if err := c.GalaxyParams().Validate(); err != nil {
			return fmt.Errorf("initial: %w", err)
		}
		return nil
	default:
		return invalid("initial.kind", c.Initial.Kind)
	}
}

func (c *Config) GalaxyParams() galaxy.Params {
	up := c.Initial.Up
	return galaxy.Params{
		MaxRadius: c.Initial.MaxRadius,
		MaxPhi:    c.Initial.MaxPhi,
		Count:     c.Initial.Bodies,
		Up:        r3.Vec{X: up[0], Y: up[1], Z: up[2]},
		G:         c.GravitationConstant,
	}
}

// InitialBodies builds the starting body set described by the config.
func (c *Config) InitialBodies() (*dynamo.Bodies, error) {
	if c.Initial.Kind == KindUnit {
		return galaxy.UnitPoints(), nil
	}
	return galaxy.Generate(c.GalaxyParams(), galaxy.NewSource(c.Seed))
}
