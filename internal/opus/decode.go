package opus

import (
	"encoding/binary"
	"io"
)

// FrameReader is implemented by every container reader in this package.
// ReadFrame returns io.EOF when there are no more frames.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// DCAReader reads length-prefixed Opus frames from an io.Reader.
type DCAReader struct {
	r io.Reader
}

// NewDCAReader returns a new DCAReader that reads from r.
func NewDCAReader(r io.Reader) *DCAReader {
	return &DCAReader{r: r}
}

// ReadFrame reads and returns the next raw Opus frame.
// Returns io.EOF when there are no more frames.
func (f *DCAReader) ReadFrame() ([]byte, error) {
	var size uint16
	if err := binary.Read(f.r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

var _ FrameReader = (*DCAReader)(nil)
