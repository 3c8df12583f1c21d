package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// DefaultFrequency is 255 MHz, the frequency the station tunes to when none is given.
const DefaultFrequency = 255_000_000

// StationConfig is the on-air identity of the broadcaster.
type StationConfig struct {
	Name       string  `env:"STATION_NAME, default=DCS Radio Station"`
	Frequency  uint64  `env:"STATION_FREQUENCY, default=255000000"`
	Modulation string  `env:"STATION_MODULATION, default=am"`
	Coalition  string  `env:"STATION_COALITION, default=blue"`
	X          float64 `env:"STATION_X, default=0"`
	Y          float64 `env:"STATION_Y, default=0"`
	Altitude   float64 `env:"STATION_ALTITUDE, default=8000"`
}

func NewStationConfigFromEnv() (*StationConfig, error) {
	var cfg StationConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	if cfg.Frequency == 0 {
		return nil, fmt.Errorf("STATION_FREQUENCY must be a positive number of Hz")
	}
	return &cfg, nil
}
