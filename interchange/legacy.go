// Package interchange reads and writes the engine-independent file formats
// of count tables:
//
//   - the legacy lexical record file (fixed 16-byte records);
//   - a whitespace-delimited text rendering of the same records;
//   - snapshots: a checksummed, optionally compressed dump of raw store
//     entries of any table kind.
//
// # Legacy record layout
//
//	record = s:u32 t:u32 numer:f32 denom:f32    (little-endian)
//
// Records follow each other with no header or separator until end of file.
package interchange

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/andreyvit/countdb/mmap"
)

// LexRecordSize is the encoded size of a LexRecord.
const LexRecordSize = 16

// LexRecord is one lexical (source, target) statistic with the denominator
// of its source.
type LexRecord struct {
	S     uint32
	T     uint32
	Numer float32
	Denom float32
}

func AppendLexRecord(buf []byte, r LexRecord) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, r.S)
	buf = binary.LittleEndian.AppendUint32(buf, r.T)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(r.Numer))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(r.Denom))
	return buf
}

// DecodeLexRecord decodes the first LexRecordSize bytes of b.
func DecodeLexRecord(b []byte) LexRecord {
	_ = b[LexRecordSize-1]
	return LexRecord{
		S:     binary.LittleEndian.Uint32(b[0:]),
		T:     binary.LittleEndian.Uint32(b[4:]),
		Numer: math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		Denom: math.Float32frombits(binary.LittleEndian.Uint32(b[12:])),
	}
}

// LexReader reads legacy records from a stream.
type LexReader struct {
	r   *bufio.Reader
	buf [LexRecordSize]byte
	n   int64
}

func NewLexReader(r io.Reader) *LexReader {
	return &LexReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record, io.EOF after the last one, or
// io.ErrUnexpectedEOF if the stream ends inside a record.
func (lr *LexReader) Next() (LexRecord, error) {
	_, err := io.ReadFull(lr.r, lr.buf[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return LexRecord{}, fmt.Errorf("record %d: truncated: %w", lr.n, err)
		}
		return LexRecord{}, err
	}
	lr.n++
	return DecodeLexRecord(lr.buf[:]), nil
}

// Count returns the number of records read so far.
func (lr *LexReader) Count() int64 {
	return lr.n
}

// LexWriter writes legacy records to a stream. Call Flush when done.
type LexWriter struct {
	w   *bufio.Writer
	buf []byte
	n   int64
}

func NewLexWriter(w io.Writer) *LexWriter {
	return &LexWriter{w: bufio.NewWriterSize(w, 64*1024), buf: make([]byte, 0, LexRecordSize)}
}

func (lw *LexWriter) Write(r LexRecord) error {
	lw.buf = AppendLexRecord(lw.buf[:0], r)
	_, err := lw.w.Write(lw.buf)
	if err != nil {
		return err
	}
	lw.n++
	return nil
}

func (lw *LexWriter) Count() int64 {
	return lw.n
}

func (lw *LexWriter) Flush() error {
	return lw.w.Flush()
}

// ReadLexFile maps the legacy file at path and calls f for every record in
// file order, stopping at the first error f returns. A file whose size is not
// a multiple of LexRecordSize fails with io.ErrUnexpectedEOF after the
// complete records have been delivered.
func ReadLexFile(path string, f func(r LexRecord) error) (int64, error) {
	m, err := mmap.Open(path, mmap.SequentialAccess)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	data := m.Bytes()
	var n int64
	for len(data) >= LexRecordSize {
		if err := f(DecodeLexRecord(data)); err != nil {
			return n, err
		}
		n++
		data = data[LexRecordSize:]
	}
	if len(data) != 0 {
		return n, fmt.Errorf("%s: record %d: truncated: %w", path, n, io.ErrUnexpectedEOF)
	}
	return n, nil
}
