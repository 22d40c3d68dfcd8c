package ports

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mutableLister struct {
	mu    sync.Mutex
	ports []Descriptor
}

func (l *mutableLister) set(ports ...Descriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ports = ports
}

func (l *mutableLister) ListPorts() ([]Descriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Descriptor(nil), l.ports...), nil
}

func TestMonitor_Changes(t *testing.T) {
	lister := &mutableLister{}
	lister.set(Descriptor{Path: "/dev/ttyS0"})

	m := NewMonitor(lister, time.Hour, nil)

	var added, removed []string
	m.OnAdded(func(p Descriptor) { added = append(added, p.Path) })
	m.OnRemoved(func(p Descriptor) { removed = append(removed, p.Path) })

	m.Start()
	defer m.Stop()

	// ports present at start are not announced
	m.checkChanges()
	assert.Empty(t, added)

	lister.set(Descriptor{Path: "/dev/ttyS0"}, Descriptor{Path: "/dev/ttyUSB0", Manufacturer: "Elgin"})
	m.checkChanges()
	assert.Equal(t, []string{"/dev/ttyUSB0"}, added)

	lister.set(Descriptor{Path: "/dev/ttyUSB0", Manufacturer: "Elgin"})
	m.checkChanges()
	assert.Equal(t, []string{"/dev/ttyS0"}, removed)
}

func TestMonitor_Polls(t *testing.T) {
	lister := &mutableLister{}
	m := NewMonitor(lister, 5*time.Millisecond, nil)

	seen := make(chan Descriptor, 1)
	m.OnAdded(func(p Descriptor) {
		select {
		case seen <- p:
		default:
		}
	})

	m.Start()
	lister.set(Descriptor{Path: "COM4"})

	select {
	case p := <-seen:
		assert.Equal(t, "COM4", p.Path)
	case <-time.After(time.Second):
		require.Fail(t, "port was not reported")
	}

	m.Stop()
}
