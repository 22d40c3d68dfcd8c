// Package ports lists the serial ports the printer may be attached to
package ports

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// Descriptor is one serial port. Manufacturer is empty when unknown.
type Descriptor struct {
	Path         string `json:"path"`
	Manufacturer string `json:"manufacturer"`
}

// DiscoveryError reports that the OS port enumeration failed
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery error: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// EnumerateFunc returns the raw port list from the OS
type EnumerateFunc func() ([]*enumerator.PortDetails, error)

// ManufacturerFunc resolves the manufacturer of a USB device by its hex
// vendor and product IDs
type ManufacturerFunc func(vid, pid string) (string, error)

// Discovery queries the OS for serial ports on every call. Only resolved
// manufacturer names are kept, per VID:PID. It is safe for concurrent use,
// including while the printer is printing.
type Discovery struct {
	enumerate    EnumerateFunc
	manufacturer ManufacturerFunc

	mu            sync.Mutex
	manufacturers map[string]string
}

// Option configures a Discovery
type Option func(*Discovery)

// WithEnumerator replaces the OS enumeration
func WithEnumerator(fn EnumerateFunc) Option {
	return func(d *Discovery) {
		d.enumerate = fn
	}
}

// WithManufacturerResolver replaces the USB manufacturer lookup. A nil
// resolver disables the lookup.
func WithManufacturerResolver(fn ManufacturerFunc) Option {
	return func(d *Discovery) {
		d.manufacturer = fn
	}
}

// NewDiscovery creates a Discovery backed by the OS enumerator and libusb
func NewDiscovery(opts ...Option) *Discovery {
	d := &Discovery{
		enumerate:     enumerator.GetDetailedPortsList,
		manufacturer:  USBManufacturer,
		manufacturers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListPorts returns the ports currently present, sorted by path. No ports is
// an empty slice and a nil error.
func (d *Discovery) ListPorts() ([]Descriptor, error) {
	details, err := d.enumerate()
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}

	ports := make([]Descriptor, 0, len(details))
	for _, detail := range details {
		if detail == nil || detail.Name == "" {
			continue
		}
		ports = append(ports, Descriptor{
			Path:         detail.Name,
			Manufacturer: d.resolveManufacturer(detail),
		})
	}

	sort.Slice(ports, func(i, j int) bool {
		return ports[i].Path < ports[j].Path
	})

	return ports, nil
}

func (d *Discovery) resolveManufacturer(detail *enumerator.PortDetails) string {
	if !detail.IsUSB {
		return ""
	}
	if d.manufacturer != nil && detail.VID != "" && detail.PID != "" {
		if name := d.lookup(detail.VID, detail.PID); name != "" {
			return name
		}
	}
	return detail.Product
}

// lookup resolves a manufacturer once per VID:PID. Failures are cached as
// empty so a missing libusb is not retried on every poll.
func (d *Discovery) lookup(vid, pid string) string {
	key := strings.ToLower(vid + ":" + pid)

	d.mu.Lock()
	defer d.mu.Unlock()

	if name, ok := d.manufacturers[key]; ok {
		return name
	}

	name, err := d.callResolver(vid, pid)
	if err != nil {
		name = ""
	}
	d.manufacturers[key] = name
	return name
}

func (d *Discovery) callResolver(vid, pid string) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("manufacturer lookup for %s:%s panicked: %v", vid, pid, r)
		}
	}()
	return d.manufacturer(vid, pid)
}

// USBManufacturer reads the manufacturer string descriptor of the first USB
// device matching vid:pid. gousb panics when libusb cannot be initialised
// (e.g. no /dev/bus/usb in a container); that is returned as an error.
func USBManufacturer(vid, pid string) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("libusb unavailable: %v", r)
		}
	}()

	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return "", fmt.Errorf("invalid vendor id %q: %w", vid, err)
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return "", fmt.Errorf("invalid product id %q: %w", pid, err)
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(v), gousb.ID(p))
	if err != nil {
		return "", fmt.Errorf("failed to open USB device %s:%s: %w", vid, pid, err)
	}
	if dev == nil {
		return "", fmt.Errorf("USB device %s:%s not found", vid, pid)
	}
	defer dev.Close()

	return dev.Manufacturer()
}

// FormatList writes a numbered, human readable port list
func FormatList(w io.Writer, ports []Descriptor) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "No serial ports found")
		return err
	}

	for i, port := range ports {
		manufacturer := port.Manufacturer
		if manufacturer == "" {
			manufacturer = "unknown"
		}
		if _, err := fmt.Fprintf(w, "(%d) %s - %s\n", i+1, port.Path, manufacturer); err != nil {
			return err
		}
	}
	return nil
}
