package driver

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ESC/POS commands
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
)

// codePagePC850 is the ESC t table number of code page 850 (Multilingual)
const codePagePC850 = 2

// ESCPOSEncoder generates ESC/POS commands for text receipts
type ESCPOSEncoder struct {
	buffer *bytes.Buffer
	text   *encoding.Encoder
}

// NewESCPOSEncoder creates a new ESC/POS encoder that writes text in code
// page 850. Characters outside the code page are replaced.
func NewESCPOSEncoder() *ESCPOSEncoder {
	return &ESCPOSEncoder{
		buffer: new(bytes.Buffer),
		text:   encoding.ReplaceUnsupported(charmap.CodePage850.NewEncoder()),
	}
}

// Initialize resets the printer and selects code page 850
func (e *ESCPOSEncoder) Initialize() {
	e.buffer.Write([]byte{ESC, '@'})
	e.buffer.Write([]byte{ESC, 't', codePagePC850})
}

// SetAlignment sets text alignment
func (e *ESCPOSEncoder) SetAlignment(align Align) {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('a')

	switch align {
	case AlignCenter:
		e.buffer.WriteByte(1)
	case AlignRight:
		e.buffer.WriteByte(2)
	default:
		e.buffer.WriteByte(0)
	}
}

// SetBold enables or disables bold text
func (e *ESCPOSEncoder) SetBold(enabled bool) {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('E')
	if enabled {
		e.buffer.WriteByte(1)
	} else {
		e.buffer.WriteByte(0)
	}
}

// SetUnderline enables or disables single-dot underline
func (e *ESCPOSEncoder) SetUnderline(enabled bool) {
	e.buffer.WriteByte(ESC)
	e.buffer.WriteByte('-')
	if enabled {
		e.buffer.WriteByte(1)
	} else {
		e.buffer.WriteByte(0)
	}
}

// WriteText writes text converted to the printer code page
func (e *ESCPOSEncoder) WriteText(text string) error {
	encoded, err := e.text.String(text)
	if err != nil {
		return err
	}
	e.buffer.WriteString(encoded)
	return nil
}

// LineFeed sends line feed
func (e *ESCPOSEncoder) LineFeed() {
	e.buffer.WriteByte(0x0A)
}

// Feed sends multiple line feeds
func (e *ESCPOSEncoder) Feed(lines int) {
	for i := 0; i < lines; i++ {
		e.LineFeed()
	}
}

// Cut sends full cut command
func (e *ESCPOSEncoder) Cut() {
	e.buffer.WriteByte(GS)
	e.buffer.WriteByte('V')
	e.buffer.WriteByte(0)
}

// GetBytes returns the generated ESC/POS commands
func (e *ESCPOSEncoder) GetBytes() []byte {
	return e.buffer.Bytes()
}

// Reset clears the buffer
func (e *ESCPOSEncoder) Reset() {
	e.buffer.Reset()
}

// ESCPOS drives an ESC/POS printer directly over a serial, TCP or USB
// transport and reports results with the same integer codes as the vendor
// library.
type ESCPOS struct {
	mu      sync.Mutex
	conn    io.WriteCloser
	encoder *ESCPOSEncoder
	dial    func(port string, baud int) (io.WriteCloser, error)
}

// NewESCPOS creates an ESC/POS driver using the default transports
func NewESCPOS() *ESCPOS {
	return NewESCPOSWithDialer(Dial)
}

// NewESCPOSWithDialer creates an ESC/POS driver that opens connections with
// dial instead of the default transports.
func NewESCPOSWithDialer(dial func(port string, baud int) (io.WriteCloser, error)) *ESCPOS {
	return &ESCPOS{
		encoder: NewESCPOSEncoder(),
		dial:    dial,
	}
}

// Open connects to the printer on port. modelID and printerName are accepted
// for parity with the vendor surface; ESC/POS printers need neither.
func (p *ESCPOS) Open(modelID int, printerName, port string, baud int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return CodeAlreadyOpen
	}

	conn, err := p.dial(port, baud)
	if err != nil {
		return CodeOpenFailed
	}
	p.conn = conn

	p.encoder.Reset()
	p.encoder.Initialize()
	return p.flush()
}

// Close closes the connection. Closing an unopened driver is not an error.
func (p *ESCPOS) Close() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return CodeOK
	}

	err := p.conn.Close()
	p.conn = nil
	if err != nil {
		return CodeWriteFailed
	}
	return CodeOK
}

// PrintText prints one line of text
func (p *ESCPOS) PrintText(text string, align Align, bold, underline bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return CodeNotOpen
	}

	p.encoder.Reset()
	p.encoder.SetAlignment(align)
	p.encoder.SetBold(bold)
	p.encoder.SetUnderline(underline)
	if err := p.encoder.WriteText(text); err != nil {
		return CodeWriteFailed
	}
	p.encoder.LineFeed()
	p.encoder.SetBold(false)
	p.encoder.SetUnderline(false)
	return p.flush()
}

// CutPaper feeds feedLines lines and cuts the paper
func (p *ESCPOS) CutPaper(feedLines int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return CodeNotOpen
	}

	p.encoder.Reset()
	p.encoder.Feed(feedLines)
	p.encoder.Cut()
	return p.flush()
}

func (p *ESCPOS) flush() int {
	data := p.encoder.GetBytes()
	for len(data) > 0 {
		n, err := p.conn.Write(data)
		if err != nil || n == 0 {
			return CodeWriteFailed
		}
		data = data[n:]
	}
	return CodeOK
}
