package source_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/glizzus/srs-radio/internal/datalayer"
	"github.com/glizzus/srs-radio/internal/opus/opustest"
	"github.com/glizzus/srs-radio/internal/source"
)

func drain(t *testing.T, p *source.Playlist) []source.AudioFrame {
	t.Helper()
	var frames []source.AudioFrame
	for {
		f, err := p.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		frames = append(frames, f)
	}
}

func open(t *testing.T, location string) *source.Playlist {
	t.Helper()
	p, err := source.Open(context.Background(), datalayer.FileStorage{}, location)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPlaylistConcatenatesDirectory(t *testing.T) {
	dir := t.TempDir()
	frames := opustest.Frames(5, 40)
	opustest.WriteFile(t, dir, "01-intro.OGG", opustest.OggOpus(1, frames[:3]))
	opustest.WriteFile(t, dir, "02-weather.dca", opustest.DCA(frames[3:]))
	opustest.WriteFile(t, dir, "README.txt", []byte("not audio"))

	p := open(t, dir)
	if diff := cmp.Diff([]string{
		filepath.Join(dir, "01-intro.OGG"),
		filepath.Join(dir, "02-weather.dca"),
	}, p.Tracks()); diff != "" {
		t.Errorf("tracks mismatch (-want +got):\n%s", diff)
	}

	got := drain(t, p)
	want := make([]source.AudioFrame, len(frames))
	for i, f := range frames {
		want[i] = source.AudioFrame{Payload: f, Duration: 20 * time.Millisecond, Index: i}
		if i >= 3 {
			want[i].Track = 1
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaylistRewindIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := opustest.WriteFile(t, dir, "atis.opus", opustest.OggOpus(1, opustest.Frames(4, 300)))

	p := open(t, path)
	first := drain(t, p)
	if err := p.Rewind(); err != nil {
		t.Fatalf("Rewind returned error: %v", err)
	}
	second := drain(t, p)

	if len(first) != 4 {
		t.Fatalf("got %d frames; want 4", len(first))
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("replay differs (-first +second):\n%s", diff)
	}
}

func TestPlaylistLosslessConcatenation(t *testing.T) {
	frames := opustest.Frames(10, 700)
	path := opustest.WriteFile(t, t.TempDir(), "long.ogg", opustest.OggOpus(1, frames))

	var got []byte
	for _, f := range drain(t, open(t, path)) {
		got = append(got, f.Payload...)
	}
	if want := bytes.Join(frames, nil); !bytes.Equal(got, want) {
		t.Errorf("concatenated payload differs from the encoded input")
	}
}

func TestPlaylistSkipsBadPackets(t *testing.T) {
	dir := t.TempDir()
	frames := opustest.Frames(3, 10)

	withEmpty := opustest.DCA([][]byte{frames[0], {}, frames[1]})
	opustest.WriteFile(t, dir, "a.dca", withEmpty)

	truncated := opustest.DCA(frames[:2])
	truncated = append(truncated, 0x10, 0x00, opustest.TOC20ms)
	opustest.WriteFile(t, dir, "b.dca", truncated)

	opustest.WriteFile(t, dir, "c.dca", opustest.DCA(frames[2:]))

	got := drain(t, open(t, dir))
	var payloads [][]byte
	for _, f := range got {
		payloads = append(payloads, f.Payload)
	}
	want := [][]byte{frames[0], frames[1], frames[0], frames[1], frames[2]}
	if diff := cmp.Diff(want, payloads); diff != "" {
		t.Errorf("payloads mismatch (-want +got):\n%s", diff)
	}
	if got[len(got)-1].Index != 4 || got[len(got)-1].Track != 2 {
		t.Errorf("last frame = index %d track %d; want index 4 track 2", got[len(got)-1].Index, got[len(got)-1].Track)
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	frames := opustest.Frames(2, 10)
	stereoTOC := [][]byte{{opustest.TOC20ms | 0x04, 0, 0}}
	vorbis := opustest.Ogg([]byte("\x01vorbis-identification-header"), []byte("\x03vorbis"))

	tc := []struct {
		name  string
		files map[string][]byte
	}{
		{name: "stereo ogg", files: map[string][]byte{"a.ogg": opustest.OggOpus(2, frames)}},
		{name: "vorbis ogg", files: map[string][]byte{"a.ogg": vorbis}},
		{name: "headers only", files: map[string][]byte{"a.ogg": opustest.OggOpus(1, nil)}},
		{name: "stereo dca", files: map[string][]byte{"a.dca": opustest.DCA(stereoTOC)}},
		{name: "empty dca", files: map[string][]byte{"a.dca": nil}},
		{name: "no audio files", files: map[string][]byte{"notes.txt": []byte("hello")}},
		{name: "one bad file among good", files: map[string][]byte{
			"a.dca": opustest.DCA(frames),
			"b.ogg": vorbis,
		}},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, data := range test.files {
				opustest.WriteFile(t, dir, name, data)
			}

			_, err := source.Open(context.Background(), datalayer.FileStorage{}, dir)
			var inputErr *source.InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("error = %v; want *InputError", err)
			}
		})
	}
}

func TestOpenMissingPath(t *testing.T) {
	_, err := source.Open(context.Background(), datalayer.FileStorage{}, filepath.Join(t.TempDir(), "missing.ogg"))
	var inputErr *source.InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("error = %v; want *InputError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v does not wrap os.ErrNotExist", err)
	}
}

func TestFormatOf(t *testing.T) {
	tc := []struct {
		name   string
		format source.Format
		ok     bool
	}{
		{name: "a.ogg", format: source.FormatOgg, ok: true},
		{name: "B.OPUS", format: source.FormatOgg, ok: true},
		{name: "audio/c.Dca", format: source.FormatDCA, ok: true},
		{name: "d.wav"},
		{name: "noext"},
	}

	for _, test := range tc {
		format, ok := source.FormatOf(test.name)
		if format != test.format || ok != test.ok {
			t.Errorf("FormatOf(%q) = %v, %v; want %v, %v", test.name, format, ok, test.format, test.ok)
		}
	}
}
