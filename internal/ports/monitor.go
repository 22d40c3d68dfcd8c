package ports

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lister lists serial ports
type Lister interface {
	ListPorts() ([]Descriptor, error)
}

// Monitor polls for serial ports appearing and disappearing, e.g. a USB
// printer being plugged in
type Monitor struct {
	lister   Lister
	interval time.Duration
	logger   *zap.Logger

	onAdded   func(Descriptor)
	onRemoved func(Descriptor)

	previous map[string]Descriptor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a port monitor
func NewMonitor(lister Lister, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		lister:   lister,
		interval: interval,
		logger:   logger,
		previous: make(map[string]Descriptor),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnAdded sets the callback for new ports. Set callbacks before Start.
func (m *Monitor) OnAdded(fn func(Descriptor)) {
	m.onAdded = fn
}

// OnRemoved sets the callback for ports that went away
func (m *Monitor) OnRemoved(fn func(Descriptor)) {
	m.onRemoved = fn
}

// Start records the ports present now and begins watching for changes
func (m *Monitor) Start() {
	if current, err := m.lister.ListPorts(); err == nil {
		for _, p := range current {
			m.previous[p.Path] = p
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.checkChanges()
			}
		}
	}()
}

// Stop stops the monitor and waits for the poll loop to exit
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) checkChanges() {
	current, err := m.lister.ListPorts()
	if err != nil {
		m.logger.Warn("port discovery failed", zap.Error(err))
		return
	}

	currentMap := make(map[string]Descriptor, len(current))
	for _, p := range current {
		currentMap[p.Path] = p
	}

	for path, p := range currentMap {
		if _, exists := m.previous[path]; !exists {
			m.logger.Info("serial port added", zap.String("port", path), zap.String("manufacturer", p.Manufacturer))
			if m.onAdded != nil {
				m.onAdded(p)
			}
		}
	}

	for path, p := range m.previous {
		if _, exists := currentMap[path]; !exists {
			m.logger.Info("serial port removed", zap.String("port", path))
			if m.onRemoved != nil {
				m.onRemoved(p)
			}
		}
	}

	m.previous = currentMap
}
