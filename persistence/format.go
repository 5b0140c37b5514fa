// Package persistence implements the binary container used to serialize
// indexes to files, writers, and in-memory buffers.
//
// Layout:
//
//	magic uint32 | version uint32 | compression uint8 |
//	payloadLen uint64 | payload | crc32 uint32
//
// The checksum covers the stored (possibly compressed) payload bytes. The
// payload itself is opaque at this level; the facade writes the variant
// tag and per-variant state into it.
package persistence

import "errors"

const (
	// MagicNumber identifies annex index containers (ASCII: "ANXI").
	MagicNumber = 0x414E5849
	// Version is the current container format version.
	Version = 0x00010000
)

// Compression selects the payload compression codec.
type Compression uint8

const (
	// CompressionNone stores the payload verbatim.
	CompressionNone Compression = iota
	// CompressionZstd compresses the payload with zstd.
	CompressionZstd
	// CompressionLZ4 compresses the payload with lz4 block framing.
	CompressionLZ4
)

var (
	// ErrInvalidMagic is returned when the container magic does not match.
	ErrInvalidMagic = errors.New("persistence: invalid magic number")
	// ErrInvalidVersion is returned for unsupported container versions.
	ErrInvalidVersion = errors.New("persistence: unsupported format version")
	// ErrChecksum is returned when the payload checksum does not match.
	ErrChecksum = errors.New("persistence: payload checksum mismatch")
	// ErrInvalidCompression is returned for unknown compression codecs.
	ErrInvalidCompression = errors.New("persistence: unknown compression codec")
	// ErrTruncated is returned when the container ends prematurely.
	ErrTruncated = errors.New("persistence: truncated container")
)
