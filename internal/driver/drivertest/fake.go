// Package drivertest provides a scriptable in-memory driver for tests
package drivertest

import (
	"sync"
	"time"

	"github.com/thereceipt/printer-bridge/internal/driver"
)

// Call names recorded by Fake
const (
	CallOpen      = "open"
	CallClose     = "close"
	CallPrintText = "printText"
	CallCutPaper  = "cutPaper"
)

// Call is one recorded driver call
type Call struct {
	Name      string
	ModelID   int
	Printer   string
	Port      string
	Baud      int
	Text      string
	Align     driver.Align
	Bold      bool
	Underline bool
	Feed      int
}

// Fake is a driver.Driver that records calls and returns scripted codes.
// Each code slice is consumed front to back; once empty, calls succeed.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	OpenCodes  []int
	CloseCodes []int
	PrintCodes []int
	CutCodes   []int

	// Delay is slept inside every call
	Delay time.Duration

	// Stall, when set for a call name, blocks that call until the channel
	// is closed
	Stall map[string]chan struct{}
}

var _ driver.Driver = (*Fake)(nil)

func (f *Fake) Open(modelID int, printerName, port string, baud int) int {
	return f.record(Call{Name: CallOpen, ModelID: modelID, Printer: printerName, Port: port, Baud: baud}, &f.OpenCodes)
}

func (f *Fake) Close() int {
	return f.record(Call{Name: CallClose}, &f.CloseCodes)
}

func (f *Fake) CutPaper(feedLines int) int {
	return f.record(Call{Name: CallCutPaper, Feed: feedLines}, &f.CutCodes)
}

func (f *Fake) PrintText(text string, align driver.Align, bold, underline bool) int {
	return f.record(Call{Name: CallPrintText, Text: text, Align: align, Bold: bold, Underline: underline}, &f.PrintCodes)
}

func (f *Fake) record(call Call, codes *[]int) int {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	code := driver.CodeOK
	if len(*codes) > 0 {
		code = (*codes)[0]
		*codes = (*codes)[1:]
	}
	stall := f.Stall[call.Name]
	delay := f.Delay
	f.mu.Unlock()

	if stall != nil {
		<-stall
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return code
}

// Calls returns a copy of the recorded calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Names returns the recorded call names in order
func (f *Fake) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Name
	}
	return names
}

// Count returns how many calls named name were made
func (f *Fake) Count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
