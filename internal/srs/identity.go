// Package srs holds the wire formats spoken by DCS SimpleRadio Standalone:
// the radio identity a client advertises, the newline-delimited JSON control
// messages and the binary UDP voice packets.
package srs

import (
	"fmt"
	"strings"
)

// GUIDLength is the fixed size of an SRS client GUID on the wire.
const GUIDLength = 22

// Modulation is the simulated radio-wave encoding of a transmission.
type Modulation uint8

const (
	AM Modulation = iota
	FM
	Intercom
	Disabled
)

func (m Modulation) String() string {
	switch m {
	case AM:
		return "am"
	case FM:
		return "fm"
	case Intercom:
		return "intercom"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("modulation(%d)", uint8(m))
	}
}

// ParseModulation accepts the names produced by Modulation.String.
func ParseModulation(s string) (Modulation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "am":
		return AM, nil
	case "fm":
		return FM, nil
	case "intercom":
		return Intercom, nil
	case "disabled":
		return Disabled, nil
	}
	return 0, fmt.Errorf("unknown modulation %q (want am or fm)", s)
}

// Coalition is the side a client is registered with.
type Coalition int

const (
	Spectator Coalition = iota
	Red
	Blue
)

func (c Coalition) String() string {
	switch c {
	case Spectator:
		return "spectator"
	case Red:
		return "red"
	case Blue:
		return "blue"
	default:
		return fmt.Sprintf("coalition(%d)", int(c))
	}
}

func ParseCoalition(s string) (Coalition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spectator":
		return Spectator, nil
	case "red":
		return Red, nil
	case "blue":
		return Blue, nil
	}
	return 0, fmt.Errorf("unknown coalition %q (want blue, red or spectator)", s)
}

// Position is a point in DCS map coordinates. SRS swaps the names of the
// vertical and northing axes on the wire.
type Position struct {
	X   float64 `json:"x"`
	Y   float64 `json:"z"`
	Alt float64 `json:"y"`
}

// RadioIdentity is everything the relay needs to know about the station.
// It is fixed for the lifetime of a run.
type RadioIdentity struct {
	GUID       string
	Name       string
	Frequency  uint64
	Modulation Modulation
	Coalition  Coalition
	Position   Position
}

func (r RadioIdentity) Validate() error {
	if len(r.GUID) != GUIDLength {
		return fmt.Errorf("client GUID must be %d bytes, got %d", GUIDLength, len(r.GUID))
	}
	if r.Frequency == 0 {
		return fmt.Errorf("frequency must be a positive number of Hz")
	}
	if r.Modulation != AM && r.Modulation != FM {
		return fmt.Errorf("modulation %s cannot be broadcast", r.Modulation)
	}
	return nil
}
