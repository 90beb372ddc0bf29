package supervisor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// LineDecoder turns one raw output line into text. It never fails: bytes that cannot be
// decoded are replaced.
type LineDecoder func(raw []byte) string

// NewLineDecoder returns a LineDecoder for the named output encoding. An empty name means
// UTF-8. Legacy Windows consoles write "cp866" or "windows-1251".
func NewLineDecoder(name string) (LineDecoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return decodeUTF8, nil
	case "cp866", "ibm866":
		return charmapDecoder(charmap.CodePage866), nil
	case "cp1251", "windows-1251":
		return charmapDecoder(charmap.Windows1251), nil
	default:
		return nil, fmt.Errorf("unsupported output encoding %q", name)
	}
}

func decodeUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}

func charmapDecoder(cm encoding.Encoding) LineDecoder {
	return func(raw []byte) string {
		// a fresh decoder per line, since drains decode concurrently
		out, err := cm.NewDecoder().Bytes(raw)
		if err != nil {
			return decodeUTF8(raw)
		}
		return string(out)
	}
}
