package driver

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufferConn records everything written to it
type bufferConn struct {
	bytes.Buffer
	closed   bool
	writeErr error
}

func (c *bufferConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.Buffer.Write(p)
}

func (c *bufferConn) Close() error {
	c.closed = true
	return nil
}

func newBufferDriver() (*ESCPOS, *bufferConn) {
	conn := &bufferConn{}
	d := NewESCPOSWithDialer(func(port string, baud int) (io.WriteCloser, error) {
		return conn, nil
	})
	return d, conn
}

func TestESCPOS_OpenInitializesPrinter(t *testing.T) {
	d, conn := newBufferDriver()

	code := d.Open(5, "i9", "/dev/ttyUSB0", 9600)
	require.Equal(t, CodeOK, code)

	assert.Equal(t, []byte{ESC, '@', ESC, 't', codePagePC850}, conn.Bytes())
}

func TestESCPOS_OpenTwice(t *testing.T) {
	d, _ := newBufferDriver()

	require.Equal(t, CodeOK, d.Open(5, "i9", "/dev/ttyUSB0", 9600))
	assert.Equal(t, CodeAlreadyOpen, d.Open(5, "i9", "/dev/ttyUSB0", 9600))
}

func TestESCPOS_OpenFailure(t *testing.T) {
	d := NewESCPOSWithDialer(func(port string, baud int) (io.WriteCloser, error) {
		return nil, errors.New("no such device")
	})

	assert.Equal(t, CodeOpenFailed, d.Open(5, "i9", "/dev/ttyUSB9", 9600))
	assert.Equal(t, CodeNotOpen, d.PrintText("hello", AlignLeft, false, false))
}

func TestESCPOS_PrintTextStyles(t *testing.T) {
	d, conn := newBufferDriver()
	require.Equal(t, CodeOK, d.Open(5, "i9", "/dev/ttyUSB0", 9600))
	conn.Reset()

	code := d.PrintText("TOTAL", AlignCenter, true, true)
	require.Equal(t, CodeOK, code)

	want := []byte{
		ESC, 'a', 1,
		ESC, 'E', 1,
		ESC, '-', 1,
		'T', 'O', 'T', 'A', 'L', 0x0A,
		ESC, 'E', 0,
		ESC, '-', 0,
	}
	assert.Equal(t, want, conn.Bytes())
}

func TestESCPOS_PrintTextCodePage(t *testing.T) {
	d, conn := newBufferDriver()
	require.Equal(t, CodeOK, d.Open(5, "i9", "/dev/ttyUSB0", 9600))
	conn.Reset()

	require.Equal(t, CodeOK, d.PrintText("Pão", AlignLeft, false, false))

	// ã is 0xC6 in code page 850
	assert.Contains(t, string(conn.Bytes()), "P\xc6o\n")
}

func TestESCPOS_CutPaper(t *testing.T) {
	d, conn := newBufferDriver()
	require.Equal(t, CodeOK, d.Open(5, "i9", "/dev/ttyUSB0", 9600))
	conn.Reset()

	require.Equal(t, CodeOK, d.CutPaper(3))
	assert.Equal(t, []byte{0x0A, 0x0A, 0x0A, GS, 'V', 0}, conn.Bytes())
}

func TestESCPOS_WriteFailure(t *testing.T) {
	d, conn := newBufferDriver()
	require.Equal(t, CodeOK, d.Open(5, "i9", "/dev/ttyUSB0", 9600))
	conn.writeErr = errors.New("broken pipe")

	assert.Equal(t, CodeWriteFailed, d.PrintText("hello", AlignLeft, false, false))
	assert.Equal(t, CodeWriteFailed, d.CutPaper(0))
}

func TestESCPOS_CloseIsIdempotent(t *testing.T) {
	d, conn := newBufferDriver()

	assert.Equal(t, CodeOK, d.Close())

	require.Equal(t, CodeOK, d.Open(5, "i9", "/dev/ttyUSB0", 9600))
	assert.Equal(t, CodeOK, d.Close())
	assert.True(t, conn.closed)
	assert.Equal(t, CodeOK, d.Close())
	assert.Equal(t, CodeNotOpen, d.CutPaper(0))
}

func TestESCPOS_NetworkTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	d := NewESCPOS()
	require.Equal(t, CodeOK, d.Open(5, "i9", "tcp://"+ln.Addr().String(), 0))
	require.Equal(t, CodeOK, d.PrintText("PEDIDO #1", AlignCenter, true, false))
	require.Equal(t, CodeOK, d.CutPaper(1))
	require.Equal(t, CodeOK, d.Close())

	select {
	case data := <-received:
		assert.Contains(t, string(data), "PEDIDO #1\n")
		assert.True(t, bytes.HasSuffix(data, []byte{0x0A, GS, 'V', 0}))
	case <-time.After(2 * time.Second):
		t.Fatal("network printer received nothing")
	}
}

func TestNetworkConnection_WriteAfterClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
	}()

	conn, err := ConnectNetwork(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.Write([]byte{ESC, '@'})
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestParseUSBAddress(t *testing.T) {
	vid, pid, err := ParseUSBAddress("0FE6:811E")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0FE6), vid)
	assert.Equal(t, uint16(0x811E), pid)

	_, _, err = ParseUSBAddress("0FE6")
	assert.Error(t, err)

	_, _, err = ParseUSBAddress("ZZZZ:0001")
	assert.Error(t, err)
}

func TestParseAlign(t *testing.T) {
	tests := map[string]Align{
		"":       AlignLeft,
		"left":   AlignLeft,
		"Center": AlignCenter,
		"right":  AlignRight,
	}
	for in, want := range tests {
		got, err := ParseAlign(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAlign("justify")
	assert.Error(t, err)
	assert.Equal(t, "center", AlignCenter.String())
}

func TestLoad(t *testing.T) {
	d, err := Load("escpos", "")
	require.NoError(t, err)
	assert.IsType(t, &ESCPOS{}, d)
	assert.NoError(t, Unload(d))

	_, err = Load("vendor", "")
	assert.Error(t, err)

	_, err = Load("vendor", "/nonexistent/libE1_Impressora01.so")
	assert.Error(t, err)

	_, err = Load("zebra", "")
	assert.Error(t, err)
}

func TestVendorStyle(t *testing.T) {
	assert.Equal(t, 0, vendorStyle(false, false))
	assert.Equal(t, styleBold, vendorStyle(true, false))
	assert.Equal(t, styleUnderline, vendorStyle(false, true))
	assert.Equal(t, styleBold|styleUnderline, vendorStyle(true, true))
}
