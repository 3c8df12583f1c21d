// Package source turns a file, a directory or an S3 prefix full of
// pre-encoded Opus audio into one continuous sequence of frames.
package source

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/glizzus/srs-radio/internal/opus"
)

// AudioFrame is one encoded Opus packet and how long it plays for.
type AudioFrame struct {
	Payload  []byte
	Duration time.Duration
	// Index counts frames from the start of the playlist.
	Index int
	// Track is the position of the file the frame came from.
	Track int
}

// InputError reports audio that can never be played: a missing path,
// an unsupported container or a codec other than mono Opus.
type InputError struct {
	Path   string
	Reason string
	Err    error
}

var _ error = (*InputError)(nil)

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// Format is a supported container.
type Format int

const (
	FormatOgg Format = iota + 1
	FormatDCA
)

func (f Format) String() string {
	switch f {
	case FormatOgg:
		return "ogg"
	case FormatDCA:
		return "dca"
	default:
		return "unknown"
	}
}

// FormatOf picks the container from the file extension.
func FormatOf(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ogg", ".opus":
		return FormatOgg, true
	case ".dca":
		return FormatDCA, true
	}
	return 0, false
}

// ContentType is the MIME type a container is stored under.
func (f Format) ContentType() string {
	if f == FormatOgg {
		return "audio/ogg"
	}
	return "application/octet-stream"
}

func (f Format) newReader(r io.Reader) (opus.FrameReader, error) {
	switch f {
	case FormatOgg:
		o, err := opus.NewOggReader(r)
		if err != nil {
			return nil, err
		}
		if o.Head.Channels != 1 {
			return nil, fmt.Errorf("%d channel stream, voice audio must be mono", o.Head.Channels)
		}
		return o, nil
	case FormatDCA:
		return opus.NewDCAReader(r), nil
	}
	return nil, fmt.Errorf("unsupported container")
}
