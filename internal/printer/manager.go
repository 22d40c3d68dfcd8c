// Package printer owns the single exclusive connection to the receipt
// printer and guards every driver call behind its state machine.
package printer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/printer-bridge/internal/driver"
)

// State is the connection state
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateError
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "closed"
	}
}

// ErrNotOpen is returned by print and cut calls made without an open connection
var ErrNotOpen = errors.New("printer connection is not open")

// ConnectionError reports a failed open, or an open attempted while a
// connection is already open or being opened.
type ConnectionError struct {
	Code        int
	AlreadyOpen bool
}

func (e *ConnectionError) Error() string {
	if e.AlreadyOpen {
		return "connection error: printer connection already open"
	}
	return fmt.Sprintf("connection error: driver returned code %d", e.Code)
}

// Status is a snapshot of the connection
type Status struct {
	State    State  `json:"-"`
	Port     string `json:"port"`
	Baud     int    `json:"baud"`
	ModelID  int    `json:"model_id"`
	LastCode int    `json:"last_code"`
}

// Manager drives the connection lifecycle:
//
//	Closed --Open--> Opening --code 0--> Open
//	Opening --code != 0--> Error
//	Open|Error --Close--> Closed
//
// Driver calls are serialized; print and cut are refused unless the state
// is Open.
type Manager struct {
	drv         driver.Driver
	printerName string
	timeout     time.Duration
	logger      *zap.Logger

	// callMu serializes driver calls, mu guards the fields below it
	callMu sync.Mutex
	mu     sync.RWMutex

	state    State
	port     string
	baud     int
	modelID  int
	lastCode int
}

// Option configures a Manager
type Option func(*Manager)

// WithPrinterName sets the printer name passed to the driver's open call
func WithPrinterName(name string) Option {
	return func(m *Manager) {
		m.printerName = name
	}
}

// WithCallTimeout bounds every driver call. A call that does not return in
// time counts as failed with driver.CodeTimeout. Zero disables the bound.
func WithCallTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager for the already loaded driver drv
func NewManager(drv driver.Driver, opts ...Option) *Manager {
	m := &Manager{
		drv:    drv,
		logger: zap.NewNop(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open opens the connection. It fails with a ConnectionError without
// calling the driver when the connection is Open or Opening.
func (m *Manager) Open(port string, baud, modelID int) error {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	m.mu.Lock()
	if m.state == StateOpen || m.state == StateOpening {
		m.mu.Unlock()
		return &ConnectionError{Code: driver.CodeAlreadyOpen, AlreadyOpen: true}
	}
	m.state = StateOpening
	m.port = port
	m.baud = baud
	m.modelID = modelID
	m.mu.Unlock()

	code := m.call("open", func() int {
		return m.drv.Open(modelID, m.printerName, port, baud)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCode = code
	if code != driver.CodeOK {
		m.state = StateError
		m.logger.Warn("printer open failed",
			zap.String("port", port),
			zap.Int("baud", baud),
			zap.Int("model_id", modelID),
			zap.Int("code", code))
		return &ConnectionError{Code: code}
	}

	m.state = StateOpen
	m.logger.Debug("printer open", zap.String("port", port), zap.Int("baud", baud))
	return nil
}

// Close calls the driver's close exactly once and leaves the connection
// Closed whatever the driver returns. It is safe in every state, including
// repeated calls.
func (m *Manager) Close() {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	code := m.call("close", m.drv.Close)

	m.mu.Lock()
	prev := m.state
	m.state = StateClosed
	m.lastCode = code
	m.mu.Unlock()

	if code != driver.CodeOK {
		m.logger.Warn("printer close failed",
			zap.String("previous_state", prev.String()),
			zap.Int("code", code))
	}
}

// PrintText prints one line. The driver code is returned as is; the error is
// ErrNotOpen when the connection is not Open.
func (m *Manager) PrintText(text string, align driver.Align, bold, underline bool) (int, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	if !m.IsOpen() {
		return driver.CodeNotOpen, ErrNotOpen
	}

	code := m.call("printText", func() int {
		return m.drv.PrintText(text, align, bold, underline)
	})
	m.record(code)
	return code, nil
}

// CutPaper feeds feedLines lines and cuts. The driver code is returned as
// is; the error is ErrNotOpen when the connection is not Open.
func (m *Manager) CutPaper(feedLines int) (int, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	if !m.IsOpen() {
		return driver.CodeNotOpen, ErrNotOpen
	}

	code := m.call("cutPaper", func() int {
		return m.drv.CutPaper(feedLines)
	})
	m.record(code)
	return code, nil
}

// IsOpen reports whether the connection is Open
func (m *Manager) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateOpen
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastCode returns the code of the most recent driver call
func (m *Manager) LastCode() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCode
}

// Status returns a snapshot of the connection
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:    m.state,
		Port:     m.port,
		Baud:     m.baud,
		ModelID:  m.modelID,
		LastCode: m.lastCode,
	}
}

// record stores the code of a print or cut call. A timed out call leaves the
// device in an unknown state, so the connection moves to Error and must be
// closed and reopened.
func (m *Manager) record(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCode = code
	if code == driver.CodeTimeout {
		m.state = StateError
	}
}

// call runs fn, giving up after the configured timeout. The driver offers no
// way to abort a call, so a timed out call keeps running in the background.
func (m *Manager) call(name string, fn func() int) int {
	if m.timeout <= 0 {
		return fn()
	}

	done := make(chan int, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case code := <-done:
		return code
	case <-timer.C:
		m.logger.Error("driver call timed out",
			zap.String("call", name),
			zap.Duration("timeout", m.timeout))
		return driver.CodeTimeout
	}
}
