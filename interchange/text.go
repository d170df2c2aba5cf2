package interchange

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// AppendLexText appends the text rendering of r: "s t numer denom\n".
// Floats use the shortest form that parses back to the same float32.
func AppendLexText(buf []byte, r LexRecord) []byte {
	buf = strconv.AppendUint(buf, uint64(r.S), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(r.T), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, float64(r.Numer), 'g', -1, 32)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, float64(r.Denom), 'g', -1, 32)
	buf = append(buf, '\n')
	return buf
}

// LexTextWriter renders records as text lines. Call Flush when done.
type LexTextWriter struct {
	w   *bufio.Writer
	buf []byte
	n   int64
}

func NewLexTextWriter(w io.Writer) *LexTextWriter {
	return &LexTextWriter{w: bufio.NewWriter(w)}
}

func (tw *LexTextWriter) Write(r LexRecord) error {
	tw.buf = AppendLexText(tw.buf[:0], r)
	_, err := tw.w.Write(tw.buf)
	if err != nil {
		return err
	}
	tw.n++
	return nil
}

func (tw *LexTextWriter) Count() int64 {
	return tw.n
}

func (tw *LexTextWriter) Flush() error {
	return tw.w.Flush()
}

// ParseLexText parses one text line. Fields may be separated by any
// whitespace.
func ParseLexText(line string) (LexRecord, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return LexRecord{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	s, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return LexRecord{}, fmt.Errorf("source: %w", err)
	}
	t, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return LexRecord{}, fmt.Errorf("target: %w", err)
	}
	numer, err := strconv.ParseFloat(fields[2], 32)
	if err != nil {
		return LexRecord{}, fmt.Errorf("numerator: %w", err)
	}
	denom, err := strconv.ParseFloat(fields[3], 32)
	if err != nil {
		return LexRecord{}, fmt.Errorf("denominator: %w", err)
	}
	return LexRecord{uint32(s), uint32(t), float32(numer), float32(denom)}, nil
}

// ReadLexText calls f for every non-blank line of r. Errors carry the line
// number.
func ReadLexText(r io.Reader, f func(r LexRecord) error) (int64, error) {
	sc := bufio.NewScanner(r)
	var lineNo, n int64
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseLexText(line)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := f(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, sc.Err()
}
