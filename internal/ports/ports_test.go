package ports

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func staticPorts(details ...*enumerator.PortDetails) EnumerateFunc {
	return func() ([]*enumerator.PortDetails, error) {
		return details, nil
	}
}

func TestListPorts(t *testing.T) {
	d := NewDiscovery(
		WithEnumerator(staticPorts(
			&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0fe6", PID: "811e", Product: "USB Serial"},
			&enumerator.PortDetails{Name: "/dev/ttyS0"},
		)),
		WithManufacturerResolver(func(vid, pid string) (string, error) {
			assert.Equal(t, "0fe6", vid)
			assert.Equal(t, "811e", pid)
			return "Elgin", nil
		}),
	)

	ports, err := d.ListPorts()
	require.NoError(t, err)

	assert.Equal(t, []Descriptor{
		{Path: "/dev/ttyS0"},
		{Path: "/dev/ttyUSB0", Manufacturer: "Elgin"},
	}, ports)
}

func TestListPorts_ManufacturerFallsBackToProduct(t *testing.T) {
	d := NewDiscovery(
		WithEnumerator(staticPorts(
			&enumerator.PortDetails{Name: "COM3", IsUSB: true, VID: "1a86", PID: "7523", Product: "USB-SERIAL CH340"},
		)),
		WithManufacturerResolver(func(vid, pid string) (string, error) {
			return "", errors.New("access denied")
		}),
	)

	ports, err := d.ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "USB-SERIAL CH340", ports[0].Manufacturer)
}

func TestListPorts_Empty(t *testing.T) {
	d := NewDiscovery(WithEnumerator(staticPorts()), WithManufacturerResolver(nil))

	ports, err := d.ListPorts()
	require.NoError(t, err)
	assert.NotNil(t, ports)
	assert.Empty(t, ports)
}

func TestListPorts_Failure(t *testing.T) {
	cause := errors.New("permission denied")
	d := NewDiscovery(WithEnumerator(func() ([]*enumerator.PortDetails, error) {
		return nil, cause
	}))

	ports, err := d.ListPorts()
	assert.Nil(t, ports)

	var discErr *DiscoveryError
	require.True(t, errors.As(err, &discErr))
	assert.ErrorIs(t, err, cause)
}

func TestFormatList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatList(&buf, []Descriptor{
		{Path: "/dev/ttyS0"},
		{Path: "/dev/ttyUSB0", Manufacturer: "Elgin"},
	}))

	assert.Equal(t, "(1) /dev/ttyS0 - unknown\n(2) /dev/ttyUSB0 - Elgin\n", buf.String())
}

func TestFormatList_NoPorts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatList(&buf, nil))
	assert.Equal(t, "No serial ports found\n", buf.String())
}

func TestListPorts_ResolverPanics(t *testing.T) {
	d := NewDiscovery(
		WithEnumerator(staticPorts(
			&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0fe6", PID: "811e", Product: "USB Serial"},
		)),
		WithManufacturerResolver(func(vid, pid string) (string, error) {
			panic("libusb: init failure")
		}),
	)

	var ports []Descriptor
	var err error
	require.NotPanics(t, func() { ports, err = d.ListPorts() })
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{{Path: "/dev/ttyUSB0", Manufacturer: "USB Serial"}}, ports)
}

func TestListPorts_ManufacturerResolvedOnce(t *testing.T) {
	calls := 0
	d := NewDiscovery(
		WithEnumerator(staticPorts(
			&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0fe6", PID: "811e"},
			&enumerator.PortDetails{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1a86", PID: "7523", Product: "CH340"},
		)),
		WithManufacturerResolver(func(vid, pid string) (string, error) {
			calls++
			if vid == "1a86" {
				return "", errors.New("access denied")
			}
			return "Elgin", nil
		}),
	)

	for i := 0; i < 3; i++ {
		ports, err := d.ListPorts()
		require.NoError(t, err)
		assert.Equal(t, "Elgin", ports[0].Manufacturer)
		assert.Equal(t, "CH340", ports[1].Manufacturer)
	}
	assert.Equal(t, 2, calls)
}
