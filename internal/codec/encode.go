package codec

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf8"
)

// Encode serializes v according to d.
func Encode(d Descriptor, v Value) ([]byte, error) {
	return Append(nil, d, v)
}

// Append serializes v according to d and appends the bytes to dst.
func Append(dst []byte, d Descriptor, v Value) ([]byte, error) {
	return appendValue(dst, d, v, d.String())
}

// MustEncode is Encode for statically known values; it panics on mismatch.
func MustEncode(d Descriptor, v Value) []byte {
	b, err := Encode(d, v)
	if err != nil {
		panic(err)
	}
	return b
}

func appendValue(dst []byte, d Descriptor, v Value, path string) ([]byte, error) {
	switch t := d.(type) {
	case *Integer:
		if v.kind != KindInt {
			return nil, mismatch(path, d, v)
		}
		return appendInt(dst, t.Width, v.i, path)

	case *String:
		if v.kind != KindString {
			return nil, mismatch(path, d, v)
		}
		if !utf8.ValidString(v.s) {
			return nil, newError(EncodingError, path, "string is not valid UTF-8")
		}
		if t.Fixed > 0 {
			if len(v.s) > t.Fixed {
				return nil, newError(EncodingError, path, "string of %d bytes exceeds fixed width %d", len(v.s), t.Fixed)
			}
			if strings.HasSuffix(v.s, "\x00") {
				return nil, newError(EncodingError, path, "fixed string ends with NUL padding")
			}
			dst = append(dst, v.s...)
			for i := len(v.s); i < t.Fixed; i++ {
				dst = append(dst, 0)
			}
			return dst, nil
		}
		if len(v.s) > MaxStringLength {
			return nil, newError(EncodingError, path, "string of %d bytes exceeds maximum %d", len(v.s), MaxStringLength)
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.s)))
		return append(dst, v.s...), nil

	case *RawBytes:
		if v.kind != KindBytes {
			return nil, mismatch(path, d, v)
		}
		if len(v.b) != t.N {
			return nil, newError(EncodingError, path, "got %d bytes, want %d", len(v.b), t.N)
		}
		return append(dst, v.b...), nil

	case *Date:
		if v.kind != KindTime {
			return nil, mismatch(path, d, v)
		}
		text := t.zeroText()
		if !v.t.IsZero() {
			text = v.t.Format(t.Layout)
		}
		if len(text) != t.width() {
			return nil, newError(EncodingError, path, "date %q does not fit width %d", text, t.width())
		}
		// Decoding yields UTC at layout precision.
		if !v.t.IsZero() {
			if back, err := time.Parse(t.Layout, text); err != nil || !back.Equal(v.t) {
				return nil, newError(EncodingError, path, "%s is not a UTC time at %q precision", v.t, t.Layout)
			}
		}
		return append(dst, text...), nil

	case *Composite:
		if v.kind != KindComposite {
			return nil, mismatch(path, d, v)
		}
		if len(v.elems) != len(t.Fields) {
			return nil, newError(EncodingError, path, "got %d fields, want %d", len(v.elems), len(t.Fields))
		}
		var err error
		for i, f := range t.Fields {
			dst, err = appendValue(dst, f.Desc, v.elems[i], path+"."+f.Name)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil

	case *List:
		if v.kind != KindList {
			return nil, mismatch(path, d, v)
		}
		if len(v.elems) > MaxListCount {
			return nil, newError(EncodingError, path, "list of %d items exceeds maximum %d", len(v.elems), MaxListCount)
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.elems)))
		var err error
		for _, item := range v.elems {
			dst, err = appendValue(dst, t.Elem, item, path+"[]")
			if err != nil {
				return nil, err
			}
		}
		return dst, nil

	default:
		return nil, newError(EncodingError, path, "unknown descriptor %T", d)
	}
}

func appendInt(dst []byte, width int, n int64, path string) ([]byte, error) {
	switch width {
	case 1:
		if n < -1<<7 || n > 1<<7-1 {
			return nil, newError(EncodingError, path, "%d overflows int8", n)
		}
		return append(dst, byte(int8(n))), nil
	case 2:
		if n < -1<<15 || n > 1<<15-1 {
			return nil, newError(EncodingError, path, "%d overflows int16", n)
		}
		return binary.BigEndian.AppendUint16(dst, uint16(int16(n))), nil
	case 4:
		if n < -1<<31 || n > 1<<31-1 {
			return nil, newError(EncodingError, path, "%d overflows int32", n)
		}
		return binary.BigEndian.AppendUint32(dst, uint32(int32(n))), nil
	case 8:
		return binary.BigEndian.AppendUint64(dst, uint64(n)), nil
	default:
		return nil, newError(EncodingError, path, "unsupported integer width %d", width)
	}
}

func decodeInt(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}

func mismatch(path string, d Descriptor, v Value) *Error {
	return newError(EncodingError, path, "%s value does not match %s", v.kind, d)
}
