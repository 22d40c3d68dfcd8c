//go:build windows

package driver

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

type library struct {
	dll *windows.LazyDLL

	openProc      *windows.LazyProc
	closeProc     *windows.LazyProc
	printTextProc *windows.LazyProc
	cutProc       *windows.LazyProc
}

func loadLibrary(path string) (*library, error) {
	dll := windows.NewLazyDLL(path)
	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("failed to load driver library %s: %w", path, err)
	}

	lib := &library{
		dll:           dll,
		openProc:      dll.NewProc(symOpen),
		closeProc:     dll.NewProc(symClose),
		printTextProc: dll.NewProc(symPrintText),
		cutProc:       dll.NewProc(symCut),
	}

	for _, proc := range []*windows.LazyProc{lib.openProc, lib.closeProc, lib.printTextProc, lib.cutProc} {
		if err := proc.Find(); err != nil {
			windows.FreeLibrary(windows.Handle(dll.Handle()))
			return nil, fmt.Errorf("driver library %s: missing entry point %s: %w", path, proc.Name, err)
		}
	}

	return lib, nil
}

func (l *library) open(modelID int, name, port string, baud int) int {
	namePtr, err := windows.BytePtrFromString(name)
	if err != nil {
		return CodeOpenFailed
	}
	portPtr, err := windows.BytePtrFromString(port)
	if err != nil {
		return CodeOpenFailed
	}

	r, _, _ := l.openProc.Call(
		uintptr(modelID),
		uintptr(unsafe.Pointer(namePtr)),
		uintptr(unsafe.Pointer(portPtr)),
		uintptr(baud),
	)
	return int(int32(r))
}

func (l *library) close() int {
	r, _, _ := l.closeProc.Call()
	return int(int32(r))
}

func (l *library) printText(text string, align, style, size int) int {
	textPtr, err := windows.BytePtrFromString(text)
	if err != nil {
		return CodeWriteFailed
	}

	r, _, _ := l.printTextProc.Call(
		uintptr(unsafe.Pointer(textPtr)),
		uintptr(align),
		uintptr(style),
		uintptr(size),
	)
	return int(int32(r))
}

func (l *library) cut(feed int) int {
	r, _, _ := l.cutProc.Call(uintptr(feed))
	return int(int32(r))
}

func (l *library) release() error {
	return windows.FreeLibrary(windows.Handle(l.dll.Handle()))
}
