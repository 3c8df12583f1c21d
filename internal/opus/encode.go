package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// DCAWriter writes length-prefixed Opus frames to an io.Writer.
type DCAWriter struct {
	w io.Writer
}

// NewDCAWriter returns a new DCAWriter that writes to w.
func NewDCAWriter(w io.Writer) *DCAWriter {
	return &DCAWriter{w: w}
}

// WriteFrame writes one frame with its uint16 length prefix.
func (d *DCAWriter) WriteFrame(frame []byte) error {
	if len(frame) > math.MaxUint16 {
		return fmt.Errorf("frame of %d bytes does not fit a uint16 length prefix", len(frame))
	}

	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	if _, err := d.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := d.w.Write(frame)
	return err
}

// Remux copies every frame from src into a DCA stream written to w.
// The Opus payload is copied byte for byte; nothing is re-encoded.
// It returns the number of frames written.
func Remux(w io.Writer, src FrameReader) (int, error) {
	out := NewDCAWriter(w)
	n := 0
	for {
		frame, err := src.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if err := out.WriteFrame(frame); err != nil {
			return n, err
		}
		n++
	}
}
