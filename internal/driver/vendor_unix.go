//go:build darwin || linux

package driver

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type library struct {
	handle uintptr

	openFn      func(modelID int32, name, port string, baud int32) int32
	closeFn     func() int32
	printTextFn func(text string, align, style, size int32) int32
	cutFn       func(feed int32) int32
}

func loadLibrary(path string) (*library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("failed to load driver library %s: %w", path, err)
	}

	lib := &library{handle: handle}
	symbols := []struct {
		name string
		fn   any
	}{
		{symOpen, &lib.openFn},
		{symClose, &lib.closeFn},
		{symPrintText, &lib.printTextFn},
		{symCut, &lib.cutFn},
	}

	for _, sym := range symbols {
		addr, err := purego.Dlsym(handle, sym.name)
		if err != nil {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("driver library %s: missing entry point %s: %w", path, sym.name, err)
		}
		purego.RegisterFunc(sym.fn, addr)
	}

	return lib, nil
}

func (l *library) open(modelID int, name, port string, baud int) int {
	return int(l.openFn(int32(modelID), name, port, int32(baud)))
}

func (l *library) close() int {
	return int(l.closeFn())
}

func (l *library) printText(text string, align, style, size int) int {
	return int(l.printTextFn(text, int32(align), int32(style), int32(size)))
}

func (l *library) cut(feed int) int {
	return int(l.cutFn(int32(feed)))
}

func (l *library) release() error {
	return purego.Dlclose(l.handle)
}
