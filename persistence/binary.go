package persistence

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// maxSliceLen bounds decoded slice lengths so a corrupt container cannot
// trigger a huge allocation before the checksum is verified.
const maxSliceLen = 1 << 34

// Writer encodes primitive values in little-endian order. The first write
// error latches; subsequent writes are no-ops and Err returns it.
type Writer struct {
	w   io.Writer
	buf [8]byte
	err error
}

// NewWriter creates a Writer on top of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered, if any.
func (w *Writer) Err() error { return w.err }

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

// WriteUint8 writes one byte.
func (w *Writer) WriteUint8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

// WriteBool writes a bool as one byte.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

// WriteUint32 writes a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

// WriteUint64 writes a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

// WriteInt64 writes a little-endian int64.
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

// WriteInt writes an int as int64.
func (w *Writer) WriteInt(v int) { w.WriteInt64(int64(v)) }

// WriteFloat32 writes a float32 bit pattern.
func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

// WriteString writes a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.WriteUint64(uint64(len(s)))
	w.write([]byte(s))
}

// WriteBytes writes a length-prefixed byte slice.
func (w *Writer) WriteBytes(p []byte) {
	w.WriteUint64(uint64(len(p)))
	w.write(p)
}

// WriteFloat32s writes a length-prefixed float32 slice.
func (w *Writer) WriteFloat32s(v []float32) {
	w.WriteUint64(uint64(len(v)))
	for _, f := range v {
		w.WriteFloat32(f)
	}
}

// WriteInt64s writes a length-prefixed int64 slice.
func (w *Writer) WriteInt64s(v []int64) {
	w.WriteUint64(uint64(len(v)))
	for _, x := range v {
		w.WriteInt64(x)
	}
}

// Reader decodes values written by Writer. The first error latches.
type Reader struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewReader creates a Reader on top of r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) read(p []byte) {
	if r.err != nil {
		clear(p)
		return
	}
	if _, err := io.ReadFull(r.r, p); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = ErrTruncated
		}
		r.err = err
		clear(p)
	}
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() uint8 {
	r.read(r.buf[:1])
	return r.buf[0]
}

// ReadBool reads a bool.
func (r *Reader) ReadBool() bool { return r.ReadUint8() != 0 }

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	r.read(r.buf[:4])
	return binary.LittleEndian.Uint32(r.buf[:4])
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() uint64 {
	r.read(r.buf[:8])
	return binary.LittleEndian.Uint64(r.buf[:8])
}

// ReadInt64 reads a little-endian int64.
func (r *Reader) ReadInt64() int64 { return int64(r.ReadUint64()) }

// ReadInt reads an int64 into an int.
func (r *Reader) ReadInt() int { return int(r.ReadInt64()) }

// ReadFloat32 reads a float32 bit pattern.
func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }

func (r *Reader) readLen(elemSize uint64) int {
	n := r.ReadUint64()
	if r.err != nil {
		return 0
	}
	if n > maxSliceLen/max(elemSize, 1) {
		r.err = fmt.Errorf("persistence: slice length %d exceeds limit", n)
		return 0
	}
	return int(n)
}

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() string {
	n := r.readLen(1)
	if n == 0 {
		return ""
	}
	p := make([]byte, n)
	r.read(p)
	if r.err != nil {
		return ""
	}
	return string(p)
}

// ReadBytes reads a length-prefixed byte slice.
func (r *Reader) ReadBytes() []byte {
	n := r.readLen(1)
	if n == 0 {
		return nil
	}
	p := make([]byte, n)
	r.read(p)
	if r.err != nil {
		return nil
	}
	return p
}

// ReadFloat32s reads a length-prefixed float32 slice.
func (r *Reader) ReadFloat32s() []float32 {
	n := r.readLen(4)
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = r.ReadFloat32()
	}
	if r.err != nil {
		return nil
	}
	return v
}

// ReadInt64s reads a length-prefixed int64 slice.
func (r *Reader) ReadInt64s() []int64 {
	n := r.readLen(8)
	if n == 0 {
		return nil
	}
	v := make([]int64, n)
	for i := range v {
		v[i] = r.ReadInt64()
	}
	if r.err != nil {
		return nil
	}
	return v
}
