package srs

import (
	"encoding/json"
	"fmt"
)

// MsgType enumerates control messages. The numbering follows the server.
type MsgType int

const (
	MsgUpdate MsgType = iota
	MsgPing
	MsgSync
	MsgRadioUpdate
	MsgServerSettings
	MsgClientDisconnect
	MsgVersionMismatch
)

func (t MsgType) String() string {
	switch t {
	case MsgUpdate:
		return "update"
	case MsgPing:
		return "ping"
	case MsgSync:
		return "sync"
	case MsgRadioUpdate:
		return "radio-update"
	case MsgServerSettings:
		return "server-settings"
	case MsgClientDisconnect:
		return "client-disconnect"
	case MsgVersionMismatch:
		return "version-mismatch"
	default:
		return fmt.Sprintf("msg(%d)", int(t))
	}
}

type Radio struct {
	Enc        bool    `json:"enc"`
	EncKey     uint8   `json:"encKey"`
	EncMode    uint8   `json:"encMode"`
	FreqMax    float64 `json:"freqMax"`
	FreqMin    float64 `json:"freqMin"`
	Freq       float64 `json:"freq"`
	Modulation uint8   `json:"modulation"`
	Name       string  `json:"name"`
	SecFreq    float64 `json:"secFreq"`
	Volume     float32 `json:"volume"`
	FreqMode   uint8   `json:"freqMode"`
	VolMode    uint8   `json:"volMode"`
	Expansion  bool    `json:"expansion"`
	Channel    int     `json:"channel"`
	Simul      bool    `json:"simul"`
}

type RadioInfo struct {
	Name                     string   `json:"name"`
	Pos                      Position `json:"pos"`
	PTT                      bool     `json:"ptt"`
	Radios                   []Radio  `json:"radios"`
	Control                  uint8    `json:"control"`
	Selected                 int      `json:"selected"`
	Unit                     string   `json:"unit"`
	UnitID                   uint32   `json:"unitId"`
	SimultaneousTransmission bool     `json:"simultaneousTransmission"`
}

type Client struct {
	ClientGUID string     `json:"ClientGuid"`
	Name       string     `json:"Name"`
	Position   Position   `json:"Position"`
	Coalition  Coalition  `json:"Coalition"`
	RadioInfo  *RadioInfo `json:"RadioInfo,omitempty"`
}

// Message is one line of the control protocol.
type Message struct {
	Client         *Client        `json:"Client,omitempty"`
	Clients        []Client       `json:"Clients,omitempty"`
	ServerSettings map[string]any `json:"ServerSettings,omitempty"`
	MsgType        MsgType        `json:"MsgType"`
	Version        string         `json:"Version"`
}

// stationName is how the station appears in client overlays.
func stationName(id RadioIdentity) string {
	return "ATIS " + id.Name
}

func client(id RadioIdentity) *Client {
	return &Client{
		ClientGUID: id.GUID,
		Name:       stationName(id),
		Position:   id.Position,
		Coalition:  id.Coalition,
	}
}

// NewSync builds the handshake announcing the station and its single radio.
func NewSync(id RadioIdentity, version string) Message {
	c := client(id)
	c.RadioInfo = &RadioInfo{
		Name: "ATIS",
		Pos:  id.Position,
		Radios: []Radio{{
			FreqMax:    1.0,
			FreqMin:    1.0,
			Freq:       float64(id.Frequency),
			Modulation: uint8(id.Modulation),
			Name:       "ATIS",
			Volume:     1.0,
			Channel:    -1,
		}},
		Unit:                     stationName(id),
		SimultaneousTransmission: true,
	}
	return Message{Client: c, MsgType: MsgSync, Version: version}
}

// NewPing builds the periodic keep-alive. It carries the client metadata but
// no radio information.
func NewPing(id RadioIdentity, version string) Message {
	return Message{Client: client(id), MsgType: MsgPing, Version: version}
}

// NewDisconnect builds the farewell sent before closing the connection.
func NewDisconnect(id RadioIdentity, version string) Message {
	return Message{Client: client(id), MsgType: MsgClientDisconnect, Version: version}
}

// AppendMessage appends the JSON encoding of m and the terminating newline.
func AppendMessage(dst []byte, m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return dst, fmt.Errorf("encoding %s message: %w", m.MsgType, err)
	}
	dst = append(dst, b...)
	return append(dst, '\n'), nil
}

// ParseMessage decodes one control line. Trailing whitespace is ignored.
func ParseMessage(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("decoding control message: %w", err)
	}
	return m, nil
}
