package driver

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/tarm/serial"
)

// Port prefixes that select a non-serial transport
const (
	networkPrefix = "tcp://"
	usbPrefix     = "usb://"
)

// Network printer timeouts
const (
	networkDialTimeout  = 5 * time.Second
	networkWriteTimeout = 5 * time.Second
)

// DefaultBaud is used when no baud rate is given; most thermal printers ship
// configured for it.
const DefaultBaud = 9600

// Dial opens a raw connection to the printer addressed by port:
//
//	tcp://192.168.0.50:9100  network printer
//	usb://0FE6:811E          USB printer by vendor and product id
//	/dev/ttyUSB0, COM3       serial device
func Dial(port string, baud int) (io.WriteCloser, error) {
	switch {
	case strings.HasPrefix(port, networkPrefix):
		return ConnectNetwork(strings.TrimPrefix(port, networkPrefix))
	case strings.HasPrefix(port, usbPrefix):
		vid, pid, err := ParseUSBAddress(strings.TrimPrefix(port, usbPrefix))
		if err != nil {
			return nil, err
		}
		return ConnectUSB(vid, pid)
	default:
		return ConnectSerial(port, baud)
	}
}

// ParseUSBAddress parses "VID:PID" with both ids in hexadecimal
func ParseUSBAddress(addr string) (uint16, uint16, error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid USB address %q (expected VID:PID)", addr)
	}

	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid USB vendor id %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid USB product id %q: %w", parts[1], err)
	}

	return uint16(vid), uint16(pid), nil
}

// SerialConnection is the byte pipe to a printer on a serial device such as
// /dev/ttyUSB0 or COM3. It is what Dial returns for plain port names.
type SerialConnection struct {
	port *serial.Port
	mu   sync.Mutex
}

// ConnectSerial opens device at baud (DefaultBaud when zero), 8N1
func ConnectSerial(device string, baud int) (*SerialConnection, error) {
	if baud == 0 {
		baud = DefaultBaud
	}

	config := &serial.Config{
		Name: device,
		Baud: baud,
	}

	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	return &SerialConnection{
		port: port,
	}, nil
}

// Write writes raw ESC/POS bytes to the device
func (c *SerialConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return 0, fmt.Errorf("serial connection closed")
	}
	return c.port.Write(data)
}

// Close releases the device. Repeated calls return nil.
func (c *SerialConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

// NetworkConnection is the byte pipe to a printer listening on a raw TCP
// port, usually 9100, addressed as tcp://host:port.
type NetworkConnection struct {
	conn net.Conn
	mu   sync.Mutex
}

// ConnectNetwork dials address (host:port), giving up after networkDialTimeout
func ConnectNetwork(address string) (*NetworkConnection, error) {
	conn, err := net.DialTimeout("tcp", address, networkDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to network printer: %w", err)
	}

	return &NetworkConnection{
		conn: conn,
	}, nil
}

// Write writes raw ESC/POS bytes. A printer that stops reading (paper out,
// cover open) fails the write after networkWriteTimeout.
func (c *NetworkConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, net.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(networkWriteTimeout)); err != nil {
		return 0, err
	}
	return c.conn.Write(data)
}

// Close closes the socket. Repeated calls return nil.
func (c *NetworkConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// USBConnection represents a USB printer connection
type USBConnection struct {
	ctx      *gousb.Context
	device   *gousb.Device
	iface    *gousb.Interface
	release  func()
	endpoint *gousb.OutEndpoint
	mu       sync.Mutex
}

// ConnectUSB connects to a USB printer through its default interface.
// Returns error if USB support is not available (libusb not installed or
// not initialisable, which gousb reports by panicking).
func ConnectUSB(vid, pid uint16) (conn *USBConnection, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn, err = nil, fmt.Errorf("libusb unavailable: %v", r)
		}
	}()

	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found: %04X:%04X", vid, pid)
	}

	// Some kernels bind usblp to the printer; detach it so the interface can be claimed
	dev.SetAutoDetach(true)

	iface, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim USB interface: %w", err)
	}

	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction != gousb.EndpointDirectionOut {
			continue
		}
		ep, err := iface.OutEndpoint(epDesc.Number)
		if err != nil {
			continue
		}
		return &USBConnection{
			ctx:      ctx,
			device:   dev,
			iface:    iface,
			release:  done,
			endpoint: ep,
		}, nil
	}

	done()
	dev.Close()
	ctx.Close()
	return nil, fmt.Errorf("no OUT endpoint found for USB printer %04X:%04X", vid, pid)
}

// Write sends data to the USB printer
func (c *USBConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.endpoint == nil {
		return 0, fmt.Errorf("USB connection closed")
	}
	return c.endpoint.Write(data)
}

// Close releases the interface, device and libusb context
func (c *USBConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.endpoint = nil

	var err error
	if c.device != nil {
		err = c.device.Close()
		c.device = nil
	}
	if c.ctx != nil {
		if cerr := c.ctx.Close(); err == nil {
			err = cerr
		}
		c.ctx = nil
	}
	return err
}
