// Package driver exposes the printer driver surface consumed by the rest of
// the bridge: open a connection, print a line of text, cut the paper, close.
//
// Every entry point returns the driver's integer status code. Zero means
// success; any other value is driver specific and is passed through to
// callers untouched so an operator can look it up in the vendor manual.
package driver

import (
	"fmt"
	"strings"
)

// Status codes produced by the backends in this package. The vendor library
// returns its own codes, which share the convention that 0 is success.
const (
	CodeOK          = 0
	CodeOpenFailed  = -1
	CodeNotOpen     = -2
	CodeWriteFailed = -3
	CodeAlreadyOpen = -4

	// CodeTimeout is reported when a call does not return within the
	// configured bound.
	CodeTimeout = -110
)

// Align is the horizontal alignment of a printed line
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// String returns the lowercase name of the alignment
func (a Align) String() string {
	switch a {
	case AlignCenter:
		return "center"
	case AlignRight:
		return "right"
	default:
		return "left"
	}
}

// ParseAlign converts "left", "center" or "right" into an Align
func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left":
		return AlignLeft, nil
	case "center":
		return AlignCenter, nil
	case "right":
		return AlignRight, nil
	default:
		return AlignLeft, fmt.Errorf("invalid alignment: %s", s)
	}
}

// Driver is the printer control surface. Implementations are not required
// to be safe for concurrent sessions; the device only serves one.
type Driver interface {
	Open(modelID int, printerName, port string, baud int) int
	Close() int
	CutPaper(feedLines int) int
	PrintText(text string, align Align, bold, underline bool) int
}

// Driver kinds accepted by Load
const (
	KindVendor = "vendor"
	KindESCPOS = "escpos"
)

// Load constructs the driver selected by kind. For the vendor kind the
// shared library at libraryPath is loaded and all entry points resolved
// before returning, so a missing or broken library fails here and not on
// the first print.
func Load(kind, libraryPath string) (Driver, error) {
	switch strings.ToLower(kind) {
	case KindVendor:
		if libraryPath == "" {
			return nil, fmt.Errorf("vendor driver requires a library path")
		}
		return LoadVendor(libraryPath)
	case KindESCPOS, "":
		return NewESCPOS(), nil
	default:
		return nil, fmt.Errorf("unsupported driver kind: %s", kind)
	}
}

// Unload releases process-wide resources held by d, if any.
func Unload(d Driver) error {
	if u, ok := d.(interface{ Unload() error }); ok {
		return u.Unload()
	}
	return nil
}
