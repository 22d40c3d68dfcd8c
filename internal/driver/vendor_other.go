//go:build !(darwin || linux || windows)

package driver

import (
	"fmt"
	"runtime"
)

type library struct{}

func loadLibrary(path string) (*library, error) {
	return nil, fmt.Errorf("vendor driver library is not supported on %s", runtime.GOOS)
}

func (l *library) open(modelID int, name, port string, baud int) int { return CodeOpenFailed }
func (l *library) close() int                                          { return CodeNotOpen }
func (l *library) printText(text string, align, style, size int) int   { return CodeNotOpen }
func (l *library) cut(feed int) int                                    { return CodeNotOpen }
func (l *library) release() error                                      { return nil }
