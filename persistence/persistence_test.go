package persistence

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.WriteUint8(7)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteUint32(0xDEADBEEF)
	w.WriteUint64(1 << 40)
	w.WriteInt64(-42)
	w.WriteInt(12345)
	w.WriteFloat32(3.5)
	w.WriteString("annex")
	w.WriteBytes([]byte{1, 2, 3})
	w.WriteFloat32s([]float32{1, 2, 3.25})
	w.WriteInt64s([]int64{-1, 0, 1})
	require.NoError(t, w.Err())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, uint8(7), r.ReadUint8())
	assert.True(t, r.ReadBool())
	assert.False(t, r.ReadBool())
	assert.Equal(t, uint32(0xDEADBEEF), r.ReadUint32())
	assert.Equal(t, uint64(1<<40), r.ReadUint64())
	assert.Equal(t, int64(-42), r.ReadInt64())
	assert.Equal(t, 12345, r.ReadInt())
	assert.Equal(t, float32(3.5), r.ReadFloat32())
	assert.Equal(t, "annex", r.ReadString())
	assert.Equal(t, []byte{1, 2, 3}, r.ReadBytes())
	assert.Equal(t, []float32{1, 2, 3.25}, r.ReadFloat32s())
	assert.Equal(t, []int64{-1, 0, 1}, r.ReadInt64s())
	require.NoError(t, r.Err())
}

func TestReaderLatchesError(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1}))
	_ = r.ReadUint64()
	require.Error(t, r.Err())

	// Subsequent reads return zero values without panicking.
	assert.Equal(t, uint32(0), r.ReadUint32())
	assert.Equal(t, "", r.ReadString())
	assert.Nil(t, r.ReadFloat32s())
}

func TestContainer(t *testing.T) {
	payload := bytes.Repeat([]byte("annex payload "), 100)

	t.Run("RoundTrip", func(t *testing.T) {
		for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
			var buf bytes.Buffer
			require.NoError(t, Seal(&buf, c, payload))

			got, err := Open(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		}
	})

	t.Run("CompressionShrinks", func(t *testing.T) {
		var plain, packed bytes.Buffer
		require.NoError(t, Seal(&plain, CompressionNone, payload))
		require.NoError(t, Seal(&packed, CompressionZstd, payload))
		assert.Less(t, packed.Len(), plain.Len())
	})

	t.Run("BadMagic", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Seal(&buf, CompressionNone, payload))
		data := buf.Bytes()
		data[0] ^= 0xff

		_, err := Open(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("ChecksumMismatch", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Seal(&buf, CompressionNone, payload))
		data := buf.Bytes()
		// Flip a payload byte, leaving header and checksum intact.
		data[len(data)-8] ^= 0xff

		_, err := Open(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("Truncated", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Seal(&buf, CompressionNone, payload))
		data := buf.Bytes()

		_, err := Open(bytes.NewReader(data[:len(data)/3]))
		require.Error(t, err)
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Seal(&buf, CompressionZstd, nil))

		got, err := Open(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
