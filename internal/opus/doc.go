// Package opus demuxes already-encoded Opus audio for radio playback.
//
// Two containers are understood. Ogg Opus files carry an OpusHead and an
// OpusTags packet followed by one Opus packet per audio frame. DCA files use
// the minimal binary format of concatenated length-prefixed frames
// ([uint16 LE length][opus bytes]) with no header and no metadata.
//
// Nothing in this package decodes audio. Packets are handed out as raw
// bytes; their playback duration is read from the Opus TOC byte.
package opus
