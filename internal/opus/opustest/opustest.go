// Package opustest builds Ogg Opus and DCA fixtures for tests.
package opustest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// TOC20ms is a mono CELT fullband code 0 TOC byte: one 20 ms frame.
const TOC20ms = 0xF8

// Frames returns n distinct 20 ms Opus packets. Packet i starts with the TOC
// byte followed by i encoded big-endian and size-2 filler bytes.
func Frames(n, size int) [][]byte {
	if size < 3 {
		size = 3
	}
	frames := make([][]byte, n)
	for i := range frames {
		f := make([]byte, size)
		f[0] = TOC20ms
		binary.BigEndian.PutUint16(f[1:3], uint16(i))
		for j := 3; j < size; j++ {
			f[j] = byte(i + j)
		}
		frames[i] = f
	}
	return frames
}

// OpusHead returns an identification header for the given channel count.
func OpusHead(channels uint8) []byte {
	h := make([]byte, 19)
	copy(h, "OpusHead")
	h[8] = 1
	h[9] = channels
	binary.LittleEndian.PutUint16(h[10:12], 312)
	binary.LittleEndian.PutUint32(h[12:16], 48000)
	return h
}

// OpusTags returns a minimal comment header.
func OpusTags() []byte {
	var b bytes.Buffer
	b.WriteString("OpusTags")
	vendor := "opustest"
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(vendor)))
	b.WriteString(vendor)
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	return b.Bytes()
}

// Ogg encodes packets as an Ogg stream with one packet per page.
func Ogg(packets ...[]byte) []byte {
	var out bytes.Buffer
	var granule int64
	for i, p := range packets {
		var headerType byte
		if i == 0 {
			headerType |= 0x02
		}
		if i == len(packets)-1 {
			headerType |= 0x04
		}
		if i > 1 {
			granule += 960
		}
		out.Write(page(headerType, granule, 0x5eed, uint32(i), p))
	}
	return out.Bytes()
}

// OggOpus returns a complete Ogg Opus stream carrying frames.
func OggOpus(channels uint8, frames [][]byte) []byte {
	packets := append([][]byte{OpusHead(channels), OpusTags()}, frames...)
	return Ogg(packets...)
}

// DCA returns frames in the length-prefixed format.
func DCA(frames [][]byte) []byte {
	var out bytes.Buffer
	for _, f := range frames {
		_ = binary.Write(&out, binary.LittleEndian, uint16(len(f)))
		out.Write(f)
	}
	return out.Bytes()
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", path, err)
	}
	return path
}

func page(headerType byte, granule int64, serial, seq uint32, packet []byte) []byte {
	var lacing []byte
	n := len(packet)
	for n >= 255 {
		lacing = append(lacing, 255)
		n -= 255
	}
	lacing = append(lacing, byte(n))

	var b bytes.Buffer
	b.WriteString("OggS")
	b.WriteByte(0)
	b.WriteByte(headerType)
	_ = binary.Write(&b, binary.LittleEndian, granule)
	_ = binary.Write(&b, binary.LittleEndian, serial)
	_ = binary.Write(&b, binary.LittleEndian, seq)
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	b.WriteByte(byte(len(lacing)))
	b.Write(lacing)
	b.Write(packet)

	buf := b.Bytes()
	binary.LittleEndian.PutUint32(buf[22:26], crc(buf))
	return buf
}

var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// crc is the unreflected CRC-32 used by Ogg pages.
func crc(b []byte) uint32 {
	var c uint32
	for _, v := range b {
		c = c<<8 ^ crcTable[byte(c>>24)^v]
	}
	return c
}
