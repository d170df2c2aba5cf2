package countdb

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// Key codec parameters. Each component is written as DigitWidth base-DigitBase
// digits, most significant first, every digit shifted up by one so that no
// encoded byte is zero. DigitBase^DigitWidth exceeds 2^32, which covers every
// uint32 entity index and every float32 bit pattern.
const (
	DigitBase  = 255
	DigitWidth = 5

	// ValueSize is the encoded size of a float32 value.
	ValueSize = DigitWidth

	maxComponent = 255*255*255*255*255 - 1
)

// Key is a sequence of entity indices. A length-1 key is a marginal,
// longer keys are joint entries.
type Key []uint32

func (k Key) String() string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, v := range k {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	buf.WriteByte(']')
	return buf.String()
}

func (k Key) Equal(another Key) bool {
	if len(k) != len(another) {
		return false
	}
	for i, v := range k {
		if another[i] != v {
			return false
		}
	}
	return true
}

// Compare orders keys component-wise, shorter prefixes first. The encoded
// byte strings compare the same way.
func (k Key) Compare(another Key) int {
	n := min(len(k), len(another))
	for i := 0; i < n; i++ {
		if k[i] < another[i] {
			return -1
		} else if k[i] > another[i] {
			return 1
		}
	}
	switch {
	case len(k) < len(another):
		return -1
	case len(k) > len(another):
		return 1
	default:
		return 0
	}
}

func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	return append(Key(nil), k...)
}

// EncodeKey returns the order-preserving byte representation of key.
func EncodeKey(key Key) []byte {
	return AppendKey(make([]byte, 0, len(key)*DigitWidth), key)
}

// AppendKey appends the encoding of key to buf.
func AppendKey(buf []byte, key Key) []byte {
	for _, v := range key {
		buf = appendComponent(buf, uint64(v))
	}
	return buf
}

// DecodeKey reverses EncodeKey. raw must have been produced by the codec;
// a length that is not a multiple of DigitWidth panics.
func DecodeKey(raw []byte) Key {
	if len(raw)%DigitWidth != 0 {
		panic(dataErrf(raw, len(raw)-len(raw)%DigitWidth, nil, "invalid key: length %d is not a multiple of %d", len(raw), DigitWidth))
	}
	key := make(Key, 0, len(raw)/DigitWidth)
	for off := 0; off < len(raw); off += DigitWidth {
		v := decodeComponent(raw[off : off+DigitWidth])
		if v > math.MaxUint32 {
			panic(dataErrf(raw, off, nil, "invalid key: component %d does not fit into an entity index", v))
		}
		key = append(key, uint32(v))
	}
	return key
}

// EncodeValue encodes the bit pattern of v, so every float32 (NaNs and
// infinities included) round-trips exactly.
func EncodeValue(v float32) []byte {
	return appendComponent(make([]byte, 0, ValueSize), uint64(math.Float32bits(v)))
}

// DecodeValue reverses EncodeValue.
func DecodeValue(raw []byte) float32 {
	if len(raw) != ValueSize {
		panic(dataErrf(raw, 0, nil, "invalid value: got %d bytes, wanted %d", len(raw), ValueSize))
	}
	return math.Float32frombits(uint32(decodeComponent(raw)))
}

func appendComponent(buf []byte, v uint64) []byte {
	if v > maxComponent {
		panic("component out of codec range")
	}
	off, buf := grow(buf, DigitWidth)
	for i := DigitWidth - 1; i >= 0; i-- {
		buf[off+i] = byte(v%DigitBase) + 1
		v /= DigitBase
	}
	return buf
}

// decodeComponents is DecodeKey without the entity index range check, for
// keys that carry role markers.
func decodeComponents(raw []byte) []uint64 {
	if len(raw)%DigitWidth != 0 {
		panic(dataErrf(raw, len(raw)-len(raw)%DigitWidth, nil, "invalid key: length %d is not a multiple of %d", len(raw), DigitWidth))
	}
	comps := make([]uint64, 0, len(raw)/DigitWidth)
	for off := 0; off < len(raw); off += DigitWidth {
		comps = append(comps, decodeComponent(raw[off:off+DigitWidth]))
	}
	return comps
}

func decodeComponent(raw []byte) uint64 {
	var v uint64
	for _, b := range raw[:DigitWidth] {
		if b == 0 {
			panic(dataErrf(raw, 0, nil, "invalid key: zero byte"))
		}
		v = v*DigitBase + uint64(b-1)
	}
	return v
}

// checkEncodedEntry returns a *DataError unless k and v could have come out
// of the codec: whole components, a ValueSize value, no zero bytes.
func checkEncodedEntry(k, v []byte) error {
	if len(k) == 0 || len(k)%DigitWidth != 0 {
		return dataErrf(k, len(k)-len(k)%DigitWidth, nil, "invalid key: length %d is not a multiple of %d", len(k), DigitWidth)
	}
	if i := zeroByte(k); i >= 0 {
		return dataErrf(k, i, nil, "invalid key: zero byte")
	}
	if len(v) != ValueSize {
		return dataErrf(v, 0, nil, "invalid value: length %d, wanted %d", len(v), ValueSize)
	}
	if i := zeroByte(v); i >= 0 {
		return dataErrf(v, i, nil, "invalid value: zero byte")
	}
	return nil
}

func zeroByte(raw []byte) int {
	for i, b := range raw {
		if b == 0 {
			return i
		}
	}
	return -1
}

// componentCount returns the number of components in an encoded key without
// decoding it.
func componentCount(raw []byte) int {
	return len(raw) / DigitWidth
}

// leadingBound returns the half-open byte interval covering every key whose
// first component is lead: [enc(lead), enc(lead+1)).
func leadingBound(lead uint64) (lo, hi []byte) {
	lo = appendComponent(make([]byte, 0, DigitWidth), lead)
	hi = appendComponent(make([]byte, 0, DigitWidth), lead+1)
	return lo, hi
}

func keyHex(raw []byte) string {
	return hex.EncodeToString(raw)
}
