package opus

import (
	"errors"
	"fmt"
	"time"
)

// MaxPacketDuration is the longest audio span a single Opus packet may carry.
const MaxPacketDuration = 120 * time.Millisecond

var ErrEmptyPacket = errors.New("empty opus packet")

// frameSizes maps the 5-bit TOC configuration number to the duration of one
// frame. SILK-only configs cycle through 10/20/40/60 ms, hybrid configs
// through 10/20 ms and CELT-only configs through 2.5/5/10/20 ms.
var frameSizes = [32]time.Duration{
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
}

// TOC is the decoded table-of-contents byte of an Opus packet.
type TOC struct {
	Config    int
	Stereo    bool
	Frames    int
	FrameSize time.Duration
}

// Duration is the playback time covered by the whole packet.
func (t TOC) Duration() time.Duration {
	return time.Duration(t.Frames) * t.FrameSize
}

// ParseTOC reads the TOC byte (and the frame count byte for code 3 packets)
// of an Opus packet.
func ParseTOC(packet []byte) (TOC, error) {
	if len(packet) == 0 {
		return TOC{}, ErrEmptyPacket
	}

	toc := TOC{
		Config:    int(packet[0] >> 3),
		Stereo:    packet[0]&0x04 != 0,
		FrameSize: frameSizes[packet[0]>>3],
	}

	switch packet[0] & 0x03 {
	case 0:
		toc.Frames = 1
	case 1, 2:
		toc.Frames = 2
	case 3:
		if len(packet) < 2 {
			return TOC{}, fmt.Errorf("code 3 opus packet is missing its frame count byte")
		}
		toc.Frames = int(packet[1] & 0x3f)
		if toc.Frames == 0 {
			return TOC{}, fmt.Errorf("code 3 opus packet declares zero frames")
		}
	}

	if toc.Duration() > MaxPacketDuration {
		return TOC{}, fmt.Errorf("opus packet spans %s, more than %s", toc.Duration(), MaxPacketDuration)
	}
	return toc, nil
}

// PacketDuration returns how long the packet plays for.
func PacketDuration(packet []byte) (time.Duration, error) {
	toc, err := ParseTOC(packet)
	if err != nil {
		return 0, err
	}
	return toc.Duration(), nil
}
