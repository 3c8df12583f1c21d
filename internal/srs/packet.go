package srs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Layout selects which revision of the UDP voice packet to emit.
type Layout int

const (
	// LayoutLegacy ends the packet with unit ID, packet ID and the client GUID.
	LayoutLegacy Layout = iota
	// LayoutRetransmit adds a retransmission counter after the packet ID and
	// the originating client GUID after the sender GUID (SRS 1.9 and later).
	LayoutRetransmit
)

func (l Layout) String() string {
	switch l {
	case LayoutLegacy:
		return "legacy"
	case LayoutRetransmit:
		return "retransmit"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return LayoutLegacy, nil
	case "retransmit":
		return LayoutRetransmit, nil
	}
	return 0, fmt.Errorf("unknown packet layout %q (want legacy or retransmit)", s)
}

const (
	headerLength    = 6
	frequencyLength = 10
)

func (l Layout) fixedLength() int {
	if l == LayoutRetransmit {
		return 4 + 8 + 1 + GUIDLength + GUIDLength
	}
	return 4 + 8 + GUIDLength
}

// MaxAudioLength is the largest audio payload that fits the u16 length fields.
func (l Layout) MaxAudioLength() int {
	return math.MaxUint16 - headerLength - frequencyLength - l.fixedLength()
}

// VoicePacket is one UDP audio datagram for a single radio frequency.
type VoicePacket struct {
	Audio        []byte
	Frequency    float64
	Modulation   Modulation
	Encryption   uint8
	UnitID       uint32
	PacketID     uint64
	Retransmits  uint8
	GUID         string
	OriginalGUID string
}

var (
	ErrAudioTooLarge = errors.New("audio payload does not fit a voice packet")
	ErrShortPacket   = errors.New("voice packet is truncated")
)

// AppendVoicePacket serializes p onto dst. On error dst is returned unchanged,
// so a frame is either fully encoded or not at all.
//
//	u16 packet length | u16 audio length | u16 frequencies length
//	audio
//	f64 frequency | u8 modulation | u8 encryption
//	u32 unit ID | u64 packet ID | [u8 retransmits] | GUID | [original GUID]
//
// All integers are little-endian.
func AppendVoicePacket(dst []byte, p VoicePacket, layout Layout) ([]byte, error) {
	if len(p.Audio) > layout.MaxAudioLength() {
		return dst, fmt.Errorf("%w: %d bytes", ErrAudioTooLarge, len(p.Audio))
	}
	if len(p.GUID) != GUIDLength {
		return dst, fmt.Errorf("client GUID must be %d bytes, got %d", GUIDLength, len(p.GUID))
	}
	original := p.OriginalGUID
	if original == "" {
		original = p.GUID
	}
	if layout == LayoutRetransmit && len(original) != GUIDLength {
		return dst, fmt.Errorf("original GUID must be %d bytes, got %d", GUIDLength, len(original))
	}

	total := headerLength + len(p.Audio) + frequencyLength + layout.fixedLength()
	dst = binary.LittleEndian.AppendUint16(dst, uint16(total))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(p.Audio)))
	dst = binary.LittleEndian.AppendUint16(dst, frequencyLength)

	dst = append(dst, p.Audio...)

	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(p.Frequency))
	dst = append(dst, byte(p.Modulation), p.Encryption)

	dst = binary.LittleEndian.AppendUint32(dst, p.UnitID)
	dst = binary.LittleEndian.AppendUint64(dst, p.PacketID)
	if layout == LayoutRetransmit {
		dst = append(dst, p.Retransmits)
	}
	dst = append(dst, p.GUID...)
	if layout == LayoutRetransmit {
		dst = append(dst, original...)
	}
	return dst, nil
}

// ParseVoicePacket decodes a datagram produced by AppendVoicePacket. Only the
// first frequency is returned when the packet carries several.
func ParseVoicePacket(b []byte, layout Layout) (VoicePacket, error) {
	if len(b) < headerLength {
		return VoicePacket{}, ErrShortPacket
	}
	total := int(binary.LittleEndian.Uint16(b[0:2]))
	audioLen := int(binary.LittleEndian.Uint16(b[2:4]))
	freqLen := int(binary.LittleEndian.Uint16(b[4:6]))
	if total != len(b) || headerLength+audioLen+freqLen+layout.fixedLength() != total || freqLen < frequencyLength {
		return VoicePacket{}, fmt.Errorf("%w: header declares %d bytes, got %d", ErrShortPacket, total, len(b))
	}

	var p VoicePacket
	off := headerLength
	p.Audio = append([]byte(nil), b[off:off+audioLen]...)
	off += audioLen

	p.Frequency = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
	p.Modulation = Modulation(b[off+8])
	p.Encryption = b[off+9]
	off += freqLen

	p.UnitID = binary.LittleEndian.Uint32(b[off:])
	p.PacketID = binary.LittleEndian.Uint64(b[off+4:])
	off += 12
	if layout == LayoutRetransmit {
		p.Retransmits = b[off]
		off++
	}
	p.GUID = string(b[off : off+GUIDLength])
	off += GUIDLength
	if layout == LayoutRetransmit {
		p.OriginalGUID = string(b[off : off+GUIDLength])
	}
	return p, nil
}
