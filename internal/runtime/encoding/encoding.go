// Package encoding selects the decoder applied to subprocess output.
//
// AI tools always write UTF-8. Raw shell commands follow the host locale, which
// on Windows is usually the console code page (GBK on Chinese systems).
package encoding

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	xenc "golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder converts a raw output stream to UTF-8 text.
type Decoder interface {
	// Name is the canonical encoding name, e.g. "utf-8" or "gbk".
	Name() string
	// Reader wraps r so that reads yield UTF-8. Multi-byte sequences split
	// across reads are reassembled.
	Reader(r io.Reader) io.Reader
}

type textDecoder struct {
	name string
	enc  xenc.Encoding
}

func (d *textDecoder) Name() string { return d.name }

func (d *textDecoder) Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, d.enc.NewDecoder())
}

// UTF8 decodes UTF-8 and replaces invalid bytes with U+FFFD.
var UTF8 Decoder = &textDecoder{name: "utf-8", enc: unicode.UTF8}

// aliases maps normalized locale/config spellings to WHATWG encoding labels.
var aliases = map[string]string{
	"utf8":      "utf-8",
	"gbk":       "gbk",
	"gb2312":    "gbk",
	"cp936":     "gbk",
	"gb18030":   "gb18030",
	"big5":      "big5",
	"cp950":     "big5",
	"shiftjis":  "shift_jis",
	"sjis":      "shift_jis",
	"cp932":     "shift_jis",
	"eucjp":     "euc-jp",
	"euckr":     "euc-kr",
	"cp949":     "euc-kr",
	"koi8r":     "koi8-r",
	"koi8u":     "koi8-u",
	"cp866":     "ibm866",
	"ibm866":    "ibm866",
	"cp1250":    "windows-1250",
	"cp1251":    "windows-1251",
	"cp1252":    "windows-1252",
	"cp1253":    "windows-1253",
	"cp1254":    "windows-1254",
	"cp1255":    "windows-1255",
	"cp1256":    "windows-1256",
	"cp1257":    "windows-1257",
	"cp1258":    "windows-1258",
	"iso88592":  "iso-8859-2",
	"iso88595":  "iso-8859-5",
	"iso88597":  "iso-8859-7",
	"iso88598":  "iso-8859-8",
	"iso885915": "iso-8859-15",
}

// normalize lower-cases name and removes separators: "Shift_JIS" -> "shiftjis".
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(name)
}

// Lookup returns the decoder for an encoding name such as "gbk", "GB2312",
// "cp936" or "Shift_JIS". The second result is false for unknown names.
func Lookup(name string) (Decoder, bool) {
	key := normalize(name)
	if key == "" {
		return nil, false
	}
	switch key {
	case "utf8":
		return UTF8, true
	case "latin1", "iso88591":
		// WHATWG maps latin1 to windows-1252; keep the strict charset.
		return &textDecoder{name: "iso-8859-1", enc: charmap.ISO8859_1}, true
	case "cp437", "ibm437":
		return &textDecoder{name: "ibm437", enc: charmap.CodePage437}, true
	}
	label, ok := aliases[key]
	if !ok {
		label = strings.ToLower(strings.TrimSpace(name))
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, false
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = label
	}
	if canonical == "utf-8" {
		return UTF8, true
	}
	return &textDecoder{name: canonical, enc: enc}, true
}

// Detect picks the shell output decoder once at startup. An explicit
// override wins, then the locale environment (LC_ALL, LC_CTYPE, LANG), then
// the Windows console code page. Anything unresolved falls back to UTF-8.
func Detect(override string) Decoder {
	return detect(override, os.Getenv, consoleCodePage)
}

func detect(override string, getenv func(string) string, codePage func() (uint32, bool)) Decoder {
	if d, ok := Lookup(override); ok {
		return d
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if charset := localeCharset(getenv(key)); charset != "" {
			if d, ok := Lookup(charset); ok {
				return d
			}
		}
	}
	if cp, ok := codePage(); ok {
		if d, ok := Lookup(codePageName(cp)); ok {
			return d
		}
	}
	return UTF8
}

// localeCharset extracts the charset from a POSIX locale like "zh_CN.GBK@euro".
func localeCharset(locale string) string {
	dot := strings.IndexByte(locale, '.')
	if dot < 0 {
		return ""
	}
	charset := locale[dot+1:]
	if at := strings.IndexByte(charset, '@'); at >= 0 {
		charset = charset[:at]
	}
	return charset
}

func codePageName(cp uint32) string {
	switch cp {
	case 65001:
		return "utf-8"
	case 20866:
		return "koi8-r"
	case 21866:
		return "koi8-u"
	case 28591:
		return "latin1"
	}
	return "cp" + strconv.FormatUint(uint64(cp), 10)
}

// DecodeBytes runs b through d and returns the UTF-8 result.
func DecodeBytes(d Decoder, b []byte) (string, error) {
	out, err := io.ReadAll(d.Reader(bytes.NewReader(b)))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
