// Package hexdump renders target memory as a hex and text listing, 16
// bytes per line:
//
//	0x7FFE1000  48 65 6C 6C 6F 00 00 00 00 00 00 00 00 00 00 00   |  Hello...........
//
// Format does no I/O, callers pass bytes already read from the target.
package hexdump

import (
	"fmt"
	"strings"
)

// BytesPerLine is the number of bytes rendered on each line.
const BytesPerLine = 16

const (
	addrSep    = "  "
	sidebarSep = "  |  "
)

// glyphs maps every byte to the text shown in the sidebar. Printable
// ASCII and printable Latin-1 render as themselves, everything else as a
// dot. Space and backslash are shown as dots as well.
var glyphs = func() (t [256]string) {
	for i := range t {
		switch {
		case i == ' ' || i == '\\':
			t[i] = "."
		case i > 0x20 && i < 0x7f:
			t[i] = string(rune(i))
		case i >= 0xa1 && i != 0xad:
			t[i] = string(rune(i))
		default:
			t[i] = "."
		}
	}
	return t
}()

// Glyph returns the sidebar text for b.
func Glyph(b byte) string {
	return glyphs[b]
}

// Format renders b as if it was read starting at addr. Every line ends in
// a newline; the last line is padded so that its sidebar starts in the
// same column as the sidebar of the lines above it.
func Format(addr uint64, b []byte) string {
	if len(b) == 0 {
		return ""
	}

	// Use the widest address in the dump for every line.
	addrLen := len(fmt.Sprintf("%X", addr+uint64(len(b)-1)))
	addrFmt := fmt.Sprintf("0x%%0%dX", addrLen)

	var sb strings.Builder
	for off := 0; off < len(b); off += BytesPerLine {
		end := off + BytesPerLine
		if end > len(b) {
			end = len(b)
		}
		line := b[off:end]

		fmt.Fprintf(&sb, addrFmt, addr+uint64(off))
		sb.WriteString(addrSep)
		for _, c := range line {
			fmt.Fprintf(&sb, "%02X ", c)
		}
		sb.WriteString(strings.Repeat("   ", BytesPerLine-len(line)))
		sb.WriteString(sidebarSep)
		for _, c := range line {
			sb.WriteString(glyphs[c])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
