package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/glizzus/srs-radio/internal/datalayer"
	"github.com/glizzus/srs-radio/internal/opus"
)

type track struct {
	key    string
	format Format
}

// Playlist concatenates the frames of every playable file under a location.
// Only one container packet is held in memory at a time.
type Playlist struct {
	storage datalayer.BlobStorage
	tracks  []track

	current int
	body    io.ReadCloser
	reader  opus.FrameReader
	index   int
}

// Open lists location, keeps the files with a supported extension and
// validates each of them up front so that bad input is reported before any
// audio is sent. Every failure is an *InputError.
func Open(ctx context.Context, storage datalayer.BlobStorage, location string) (*Playlist, error) {
	keys, err := storage.List(ctx, location)
	if err != nil {
		return nil, &InputError{Path: location, Reason: "cannot read source", Err: err}
	}

	p := &Playlist{storage: storage}
	for _, key := range keys {
		format, ok := FormatOf(key)
		if !ok {
			slog.Warn("Ignoring file with unsupported extension", "path", key)
			continue
		}
		t := track{key: key, format: format}
		if err := p.validate(ctx, t); err != nil {
			return nil, err
		}
		p.tracks = append(p.tracks, t)
	}

	if len(p.tracks) == 0 {
		return nil, &InputError{Path: location, Reason: "no .ogg, .opus or .dca files found"}
	}
	slog.Info("Opened playlist", "location", location, "tracks", len(p.tracks))
	return p, nil
}

// validate checks the container headers and the first frame of t.
func (p *Playlist) validate(ctx context.Context, t track) error {
	body, err := p.storage.Open(ctx, t.key)
	if err != nil {
		return &InputError{Path: t.key, Reason: "cannot open file", Err: err}
	}
	defer body.Close()

	reader, err := t.format.newReader(body)
	if err != nil {
		return &InputError{Path: t.key, Reason: "not a mono opus " + t.format.String() + " file", Err: err}
	}

	frame, err := reader.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &InputError{Path: t.key, Reason: "file contains no audio"}
		}
		return &InputError{Path: t.key, Reason: "cannot read first frame", Err: err}
	}
	toc, err := opus.ParseTOC(frame)
	if err != nil {
		return &InputError{Path: t.key, Reason: "payload is not opus", Err: err}
	}
	if toc.Stereo {
		return &InputError{Path: t.key, Reason: "stereo opus frames, voice audio must be mono"}
	}
	return nil
}

// Tracks returns the keys of the files in play order.
func (p *Playlist) Tracks() []string {
	keys := make([]string, len(p.tracks))
	for i, t := range p.tracks {
		keys[i] = t.key
	}
	return keys
}

// Next returns the next frame of the playlist, moving on to the following
// file at a file boundary. It returns io.EOF after the last frame of the last
// file. A file that fails mid-way is abandoned with a warning, and packets
// whose TOC cannot be parsed are skipped.
func (p *Playlist) Next(ctx context.Context) (AudioFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return AudioFrame{}, err
		}

		if p.reader == nil {
			if p.current >= len(p.tracks) {
				return AudioFrame{}, io.EOF
			}
			if err := p.openCurrent(ctx); err != nil {
				slog.Warn("Skipping unreadable track", "path", p.tracks[p.current].key, "err", err)
				p.current++
				continue
			}
		}

		payload, err := p.reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("Abandoning track after read error", "path", p.tracks[p.current].key, "err", err)
			}
			p.closeCurrent()
			p.current++
			continue
		}

		duration, err := opus.PacketDuration(payload)
		if err != nil {
			slog.Warn("Skipping invalid opus packet", "path", p.tracks[p.current].key, "err", err)
			continue
		}

		frame := AudioFrame{
			Payload:  payload,
			Duration: duration,
			Index:    p.index,
			Track:    p.current,
		}
		p.index++
		return frame, nil
	}
}

// Rewind restarts the playlist at the first frame of the first file.
func (p *Playlist) Rewind() error {
	p.closeCurrent()
	p.current = 0
	p.index = 0
	return nil
}

func (p *Playlist) Close() error {
	return p.closeCurrent()
}

func (p *Playlist) openCurrent(ctx context.Context) error {
	t := p.tracks[p.current]
	body, err := p.storage.Open(ctx, t.key)
	if err != nil {
		return err
	}
	reader, err := t.format.newReader(body)
	if err != nil {
		body.Close()
		return fmt.Errorf("reading %s headers: %w", t.format, err)
	}
	slog.Debug("Playing track", "path", t.key, "track", p.current)
	p.body = body
	p.reader = reader
	return nil
}

func (p *Playlist) closeCurrent() error {
	p.reader = nil
	if p.body == nil {
		return nil
	}
	err := p.body.Close()
	p.body = nil
	return err
}
