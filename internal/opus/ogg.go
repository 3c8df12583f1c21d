package opus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jonas747/ogg"
)

var (
	ErrNotOpus     = errors.New("container does not carry an opus stream")
	ErrMissingTags = errors.New("opus stream is missing its OpusTags packet")
)

var (
	headMagic = []byte("OpusHead")
	tagsMagic = []byte("OpusTags")
)

// Head is the identification header at the start of every Ogg Opus stream.
type Head struct {
	Version         uint8
	Channels        uint8
	PreSkip         uint16
	InputSampleRate uint32
	OutputGain      int16
	MappingFamily   uint8
}

// ParseHead decodes an OpusHead packet.
func ParseHead(packet []byte) (Head, error) {
	if len(packet) < 19 || !bytes.Equal(packet[:8], headMagic) {
		return Head{}, ErrNotOpus
	}

	h := Head{
		Version:         packet[8],
		Channels:        packet[9],
		PreSkip:         binary.LittleEndian.Uint16(packet[10:12]),
		InputSampleRate: binary.LittleEndian.Uint32(packet[12:16]),
		OutputGain:      int16(binary.LittleEndian.Uint16(packet[16:18])),
		MappingFamily:   packet[18],
	}
	// Only the major version (upper nibble) is incompatible.
	if h.Version>>4 != 0 {
		return Head{}, fmt.Errorf("unsupported opus header version %d", h.Version)
	}
	if h.Channels == 0 {
		return Head{}, fmt.Errorf("opus header declares zero channels")
	}
	return h, nil
}

// OggReader yields the audio packets of an Ogg Opus stream, one Opus frame
// per call.
type OggReader struct {
	decoder *ogg.PacketDecoder
	Head    Head
}

// NewOggReader reads and validates the two header packets of an Ogg Opus
// stream. A stream whose first packet is not an OpusHead returns ErrNotOpus.
func NewOggReader(r io.Reader) (*OggReader, error) {
	decoder := ogg.NewPacketDecoder(ogg.NewDecoder(r))

	packet, _, err := decoder.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotOpus
		}
		return nil, fmt.Errorf("reading ogg header page: %w", err)
	}
	head, err := ParseHead(packet)
	if err != nil {
		return nil, err
	}

	packet, _, err = decoder.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrMissingTags
		}
		return nil, fmt.Errorf("reading ogg comment page: %w", err)
	}
	if len(packet) < 8 || !bytes.Equal(packet[:8], tagsMagic) {
		return nil, ErrMissingTags
	}

	return &OggReader{decoder: decoder, Head: head}, nil
}

// ReadFrame returns the next Opus packet. A truncated final page is treated
// as the end of the stream.
func (o *OggReader) ReadFrame() ([]byte, error) {
	packet, _, err := o.decoder.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	// The decoder reuses its page buffer between calls.
	frame := make([]byte, len(packet))
	copy(frame, packet)
	return frame, nil
}

var _ FrameReader = (*OggReader)(nil)
