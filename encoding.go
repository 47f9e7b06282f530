package jscore

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding names the text encoding of a byte slice passed to
// MakeStringFromBytes.
type Encoding int

const (
	EncodingUTF8 Encoding = iota
	EncodingUTF16LE
	EncodingUTF16BE
	EncodingLatin1
)

func (e Encoding) String() string {
	switch e {
	case EncodingUTF8:
		return "utf-8"
	case EncodingUTF16LE:
		return "utf-16le"
	case EncodingUTF16BE:
		return "utf-16be"
	case EncodingLatin1:
		return "iso-8859-1"
	default:
		return "unknown"
	}
}

func (e Encoding) transformer() transform.Transformer {
	switch e {
	case EncodingUTF8:
		return encoding.UTF8Validator
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	case EncodingLatin1:
		return charmap.ISO8859_1.NewDecoder()
	default:
		return nil
	}
}

// decodeText converts data to UTF-8. ok is false for an unknown encoding,
// invalid UTF-8 or a truncated UTF-16 code unit.
func decodeText(data []byte, enc Encoding) (s string, ok bool) {
	t := enc.transformer()
	if t == nil {
		return "", false
	}
	if (enc == EncodingUTF16LE || enc == EncodingUTF16BE) && len(data)%2 != 0 {
		return "", false
	}
	out, _, err := transform.Bytes(t, data)
	if err != nil {
		return "", false
	}
	return string(out), true
}
