package interchange

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Snapshot file format:
//
//	file    = header body
//	header  = magic:64 version:8 compression:8 base:8 width:8 _:32 created:64 kind:8*16 _:64*3 checksum:64
//	body    = record* terminator count:uvarint checksum:64    (compressed as a whole)
//	record  = keylen:uvarint key valuelen:uvarint value       (keylen > 0)
//	terminator = 0:uvarint
//
// The header checksum is xxhash64 of the preceding header bytes; the body
// checksum is xxhash64 of all record bytes.

var (
	ErrCorrupted          = errors.New("corrupted snapshot")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

const (
	snapshotMagic          = 0x31504e53544e4e43 // "CNNTSNP1" as little-endian uint64
	snapshotVersion0 uint8 = 0

	snapshotHeaderSize = 9 * 8

	maxSnapshotKeyLen   = 1 << 16
	maxSnapshotValueLen = 1 << 24
)

type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// SnapshotInfo describes the contents of a snapshot.
type SnapshotInfo struct {
	Kind        string
	Compression Compression
	DigitBase   int
	DigitWidth  int
	Created     time.Time
}

type snapshotHeader struct {
	Magic       uint64
	Version     uint8
	Compression uint8
	DigitBase   uint8
	DigitWidth  uint8
	_           uint32
	Created     int64
	Kind        [16]byte
	_           [3]uint64
	Checksum    uint64
}

func encodeSnapshotHeader(buf []byte, info *SnapshotInfo) error {
	h := snapshotHeader{
		Magic:       snapshotMagic,
		Version:     snapshotVersion0,
		Compression: uint8(info.Compression),
		DigitBase:   uint8(info.DigitBase),
		DigitWidth:  uint8(info.DigitWidth),
		Created:     info.Created.Unix(),
	}
	if len(info.Kind) > len(h.Kind) {
		return fmt.Errorf("snapshot kind %q is too long", info.Kind)
	}
	if info.DigitBase <= 0 || info.DigitBase > 255 || info.DigitWidth <= 0 || info.DigitWidth > 255 {
		return fmt.Errorf("snapshot digit base %d width %d out of range", info.DigitBase, info.DigitWidth)
	}
	copy(h.Kind[:], info.Kind)

	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != snapshotHeaderSize {
		panic("internal size mismatch")
	}
	binary.LittleEndian.PutUint64(buf[snapshotHeaderSize-8:], xxhash.Sum64(buf[:snapshotHeaderSize-8]))
	return nil
}

func decodeSnapshotHeader(buf []byte) (*SnapshotInfo, error) {
	var h snapshotHeader
	n, err := binary.Decode(buf, binary.LittleEndian, &h)
	if err != nil {
		panic(err)
	}
	if n != snapshotHeaderSize {
		panic("internal size mismatch")
	}
	if h.Magic != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupted)
	}
	if xxhash.Sum64(buf[:snapshotHeaderSize-8]) != h.Checksum {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrCorrupted)
	}
	if h.Version > snapshotVersion0 {
		return nil, ErrUnsupportedVersion
	}
	info := &SnapshotInfo{
		Kind:        strings.TrimRight(string(h.Kind[:]), "\x00"),
		Compression: Compression(h.Compression),
		DigitBase:   int(h.DigitBase),
		DigitWidth:  int(h.DigitWidth),
		Created:     time.Unix(h.Created, 0).UTC(),
	}
	switch info.Compression {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupted, h.Compression)
	}
	return info, nil
}

// SnapshotWriter streams raw entries into a snapshot. Entries are written in
// the order given; Close writes the trailer but does not close the
// underlying writer.
type SnapshotWriter struct {
	bw      *bufio.Writer
	comp    io.WriteCloser
	hash    xxhash.Digest
	n       int64
	scratch []byte
	closed  bool
}

func NewSnapshotWriter(w io.Writer, info SnapshotInfo) (*SnapshotWriter, error) {
	var hbuf [snapshotHeaderSize]byte
	if err := encodeSnapshotHeader(hbuf[:], &info); err != nil {
		return nil, err
	}
	if _, err := w.Write(hbuf[:]); err != nil {
		return nil, err
	}

	sw := &SnapshotWriter{}
	sw.hash.Reset()
	switch info.Compression {
	case CompressionNone:
		sw.bw = bufio.NewWriterSize(w, 64*1024)
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		sw.comp = enc
		sw.bw = bufio.NewWriterSize(enc, 64*1024)
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		sw.comp = zw
		sw.bw = bufio.NewWriterSize(zw, 64*1024)
	default:
		return nil, fmt.Errorf("unknown compression %v", info.Compression)
	}
	return sw, nil
}

func (sw *SnapshotWriter) Write(key, value []byte) error {
	if sw.closed {
		return errors.New("snapshot writer is closed")
	}
	if len(key) == 0 || len(key) > maxSnapshotKeyLen {
		return fmt.Errorf("snapshot key length %d out of range", len(key))
	}
	if len(value) > maxSnapshotValueLen {
		return fmt.Errorf("snapshot value length %d out of range", len(value))
	}
	b := binary.AppendUvarint(sw.scratch[:0], uint64(len(key)))
	b = append(b, key...)
	b = binary.AppendUvarint(b, uint64(len(value)))
	b = append(b, value...)
	sw.scratch = b

	sw.hash.Write(b)
	if _, err := sw.bw.Write(b); err != nil {
		return err
	}
	sw.n++
	return nil
}

// Count returns the number of entries written so far.
func (sw *SnapshotWriter) Count() int64 {
	return sw.n
}

func (sw *SnapshotWriter) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true

	b := binary.AppendUvarint(sw.scratch[:0], 0)
	b = binary.AppendUvarint(b, uint64(sw.n))
	b = binary.LittleEndian.AppendUint64(b, sw.hash.Sum64())
	if _, err := sw.bw.Write(b); err != nil {
		return err
	}
	if err := sw.bw.Flush(); err != nil {
		return err
	}
	if sw.comp != nil {
		return sw.comp.Close()
	}
	return nil
}

// SnapshotReader reads entries back from a snapshot, verifying checksums.
type SnapshotReader struct {
	info  SnapshotInfo
	br    *bufio.Reader
	zdec  *zstd.Decoder
	hash  xxhash.Digest
	n     int64
	key   []byte
	value []byte
	done  bool
	vbuf  [binary.MaxVarintLen64]byte
}

func NewSnapshotReader(r io.Reader) (*SnapshotReader, error) {
	var hbuf [snapshotHeaderSize]byte
	_, err := io.ReadFull(r, hbuf[:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupted)
	} else if err != nil {
		return nil, err
	}
	info, err := decodeSnapshotHeader(hbuf[:])
	if err != nil {
		return nil, err
	}

	sr := &SnapshotReader{info: *info}
	sr.hash.Reset()
	switch info.Compression {
	case CompressionNone:
		sr.br = bufio.NewReaderSize(r, 64*1024)
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		sr.zdec = dec
		sr.br = bufio.NewReaderSize(dec, 64*1024)
	case CompressionLZ4:
		sr.br = bufio.NewReaderSize(lz4.NewReader(r), 64*1024)
	}
	return sr, nil
}

func (sr *SnapshotReader) Info() SnapshotInfo {
	return sr.info
}

// Next returns the next entry. The slices are only valid until the next
// call. After the last entry it verifies the trailer and returns io.EOF.
func (sr *SnapshotReader) Next() (key, value []byte, err error) {
	if sr.done {
		return nil, nil, io.EOF
	}
	klen, err := sr.readLen(maxSnapshotKeyLen)
	if err != nil {
		return nil, nil, err
	}
	if klen == 0 {
		return nil, nil, sr.finish()
	}
	sr.key, err = sr.readBytes(sr.key, klen)
	if err != nil {
		return nil, nil, err
	}
	vlen, err := sr.readLen(maxSnapshotValueLen)
	if err != nil {
		return nil, nil, err
	}
	sr.value, err = sr.readBytes(sr.value, vlen)
	if err != nil {
		return nil, nil, err
	}
	sr.n++
	return sr.key, sr.value, nil
}

func (sr *SnapshotReader) readLen(limit int) (int, error) {
	v, err := binary.ReadUvarint(sr.br)
	if err != nil {
		return 0, sr.corrupted(err, "record %d: length", sr.n)
	}
	if v > uint64(limit) {
		return 0, fmt.Errorf("%w: record %d: length %d exceeds %d", ErrCorrupted, sr.n, v, limit)
	}
	if v != 0 {
		sr.hash.Write(binary.AppendUvarint(sr.vbuf[:0], v))
	}
	return int(v), nil
}

func (sr *SnapshotReader) readBytes(buf []byte, n int) ([]byte, error) {
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(sr.br, buf); err != nil {
		return nil, sr.corrupted(err, "record %d", sr.n)
	}
	sr.hash.Write(buf)
	return buf, nil
}

func (sr *SnapshotReader) finish() error {
	count, err := binary.ReadUvarint(sr.br)
	if err != nil {
		return sr.corrupted(err, "trailer")
	}
	var cbuf [8]byte
	if _, err := io.ReadFull(sr.br, cbuf[:]); err != nil {
		return sr.corrupted(err, "trailer")
	}
	if count != uint64(sr.n) {
		return fmt.Errorf("%w: trailer says %d records, read %d", ErrCorrupted, count, sr.n)
	}
	if binary.LittleEndian.Uint64(cbuf[:]) != sr.hash.Sum64() {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	sr.done = true
	return io.EOF
}

func (sr *SnapshotReader) corrupted(err error, format string, args ...any) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %s: truncated", ErrCorrupted, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Count returns the number of entries read so far.
func (sr *SnapshotReader) Count() int64 {
	return sr.n
}

func (sr *SnapshotReader) Close() {
	if sr.zdec != nil {
		sr.zdec.Close()
		sr.zdec = nil
	}
}
