// Package debug prints marshaled call memory in a readable form.
//
// A dump is a sequence of sections. Each section has a header naming the
// value and the address of its first byte, followed by hex rows of sixteen
// bytes with the absolute address on the left and the printable ASCII on
// the right:
//
//	== param 1 (Point) @ 0x7f12c0001000, 8 bytes
//	7f12c0001000  03 00 00 00 fc ff ff ff                           |........|
//
// When the destination is a terminal the headers are highlighted.
package debug

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

const rowSize = 16

var headerStyle = ansi.Style{}.Bold().ForegroundColor(ansi.Cyan)

// Printer writes dumps to an io.Writer. It is not safe for concurrent use.
type Printer struct {
	w      io.Writer
	styled bool
	err    error
}

// NewPrinter returns a Printer writing to w. Headers are styled when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: isTerminal(w)}
}

// NewPlainPrinter returns a Printer that never styles its output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Err returns the first write error encountered.
func (p *Printer) Err() error { return p.err }

func (p *Printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// Section writes a header line.
func (p *Printer) Section(format string, args ...any) {
	title := "== " + fmt.Sprintf(format, args...)
	if p.styled {
		title = headerStyle.Styled(title)
	}
	p.printf("%s\n", title)
}

// Dump writes data as hex rows labelled with addresses starting at base.
func (p *Printer) Dump(base uintptr, data []byte) {
	if len(data) == 0 {
		p.printf("%*s  (empty)\n", addrWidth(base), "")
		return
	}
	width := addrWidth(base + uintptr(len(data)))
	var hex, text strings.Builder
	for row := 0; row < len(data); row += rowSize {
		hex.Reset()
		text.Reset()
		end := min(row+rowSize, len(data))
		for i := row; i < row+rowSize; i++ {
			if i == row+rowSize/2 {
				hex.WriteByte(' ')
			}
			if i >= end {
				hex.WriteString("   ")
				continue
			}
			fmt.Fprintf(&hex, "%02x ", data[i])
			text.WriteByte(printable(data[i]))
		}
		p.printf("%0*x  %s |%s|\n", width, base+uintptr(row), hex.String(), text.String())
	}
}

// Block writes a header followed by a dump of data.
func (p *Printer) Block(title string, base uintptr, data []byte) {
	p.Section("%s @ 0x%x, %d bytes", title, base, len(data))
	p.Dump(base, data)
}

func addrWidth(addr uintptr) int {
	w := 8
	for addr>>(4*w) != 0 && w < 16 {
		w += 4
	}
	return w
}

func printable(b byte) byte {
	if b < 0x20 || b > 0x7e {
		return '.'
	}
	return b
}

// Strip removes terminal styling from s, for comparing styled output.
func Strip(s string) string { return ansi.Strip(s) }
