package config

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Store is a typed section/key view over the loaded configuration.
type Store struct {
	v *viper.Viper
}

// Open reads the optional config file at path on top of defaults and the
// ARCHIVER_* environment.
func Open(path string) (*Store, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return &Store{v: v}, nil
}

// Config decodes and validates the full configuration.
func (s *Store) Config() (Config, error) {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Path reports the config file in use, if any.
func (s *Store) Path() string {
	return s.v.ConfigFileUsed()
}

// GetString returns section.key as a string.
func (s *Store) GetString(section, key string) string {
	return s.v.GetString(joinKey(section, key))
}

// GetBool returns section.key as a bool.
func (s *Store) GetBool(section, key string) bool {
	return s.v.GetBool(joinKey(section, key))
}

// GetInt returns section.key as an int.
func (s *Store) GetInt(section, key string) int {
	return s.v.GetInt(joinKey(section, key))
}

// GetFloat returns section.key as a float64.
func (s *Store) GetFloat(section, key string) float64 {
	return s.v.GetFloat64(joinKey(section, key))
}

// GetColor parses section.key written as "r,g,b" or "r,g,b,a" (0-255 each).
// Alpha defaults to 255.
func (s *Store) GetColor(section, key string) (color.RGBA, error) {
	full := joinKey(section, key)
	return ParseColor(s.v.GetString(full))
}

// ParseColor parses the "r,g,b[,a]" color notation used in config files.
func ParseColor(raw string) (color.RGBA, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 3 && len(parts) != 4 {
		return color.RGBA{}, fmt.Errorf("color %q must have 3 or 4 components", raw)
	}
	channels := [4]uint8{0, 0, 0, 255}
	for i, part := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("color %q component %d: %w", raw, i, err)
		}
		channels[i] = uint8(n)
	}
	return color.RGBA{R: channels[0], G: channels[1], B: channels[2], A: channels[3]}, nil
}

func joinKey(section, key string) string {
	if section == "" {
		return key
	}
	return section + "." + key
}
