package config

import "sort"

func preset(edit func(*Config)) *Config {
	c := DefaultConfig()
	edit(c)
	return c
}

var Presets = map[string]map[string]*Config{
	"galaxy": {
		"small": preset(func(c *Config) {
			c.Initial.Bodies = 500
			c.Frames = 300
		}),
		"default": DefaultConfig(),
		"thick": preset(func(c *Config) {
			c.Initial.Bodies = 3000
			c.Initial.MaxPhi = 0.6
			c.Initial.Up = [3]float64{0.3, 0.2, 1}
		}),
	},
	"unit": {
		"octahedron": preset(func(c *Config) {
			c.Initial.Kind = KindUnit
			c.Initial.Bodies = 7
			c.Frames = 120
		}),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(kind, name string) *Config {
	kindPresets, ok := Presets[kind]
	if !ok {
		return nil
	}
	cfg, ok := kindPresets[name]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets(kind string) []string {
	kindPresets, ok := Presets[kind]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(kindPresets))
	for name := range kindPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListKinds() []string {
	kinds := make([]string, 0, len(Presets))
	for k := range Presets {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
