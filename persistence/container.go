package persistence

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Seal writes payload into a checksummed container on w, compressing it
// with the requested codec.
func Seal(w io.Writer, compression Compression, payload []byte) error {
	stored, err := compress(compression, payload)
	if err != nil {
		return err
	}

	bw := NewWriter(w)
	bw.WriteUint32(MagicNumber)
	bw.WriteUint32(Version)
	bw.WriteUint8(uint8(compression))
	bw.WriteBytes(stored)
	bw.WriteUint32(Checksum(stored))
	return bw.Err()
}

// Open reads a container from r, verifies its checksum, and returns the
// decompressed payload.
func Open(r io.Reader) ([]byte, error) {
	br := NewReader(r)
	if magic := br.ReadUint32(); br.Err() == nil && magic != MagicNumber {
		return nil, ErrInvalidMagic
	}
	if version := br.ReadUint32(); br.Err() == nil && version != Version {
		return nil, ErrInvalidVersion
	}
	compression := Compression(br.ReadUint8())
	stored := br.ReadBytes()
	sum := br.ReadUint32()
	if err := br.Err(); err != nil {
		return nil, err
	}
	if Checksum(stored) != sum {
		return nil, ErrChecksum
	}
	return decompress(compression, stored)
}

func compress(compression Compression, payload []byte) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return payload, nil

	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("persistence: zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil

	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("persistence: lz4 write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("persistence: lz4 close: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, ErrInvalidCompression
	}
}

func decompress(compression Compression, stored []byte) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return stored, nil

	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("persistence: zstd decoder: %w", err)
		}
		defer dec.Close()
		payload, err := dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("persistence: zstd decode: %w", err)
		}
		return payload, nil

	case CompressionLZ4:
		zr := lz4.NewReader(bytes.NewReader(stored))
		payload, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("persistence: lz4 decode: %w", err)
		}
		return payload, nil

	default:
		return nil, ErrInvalidCompression
	}
}
