package driver

import "sync"

// Entry points of the vendor printer library (Elgin E1 family naming)
const (
	symOpen      = "AbreConexaoImpressora"
	symClose     = "FechaConexaoImpressora"
	symPrintText = "ImpressaoTexto"
	symCut       = "Corte"
)

// Style bits understood by the vendor print-text call
const (
	styleUnderline = 2
	styleBold      = 8
)

// textSizeNormal selects the default character size
const textSizeNormal = 0

func vendorStyle(bold, underline bool) int {
	style := 0
	if underline {
		style |= styleUnderline
	}
	if bold {
		style |= styleBold
	}
	return style
}

// Vendor calls into the printer vendor's shared library. The library keeps
// its connection in process-global state, so a process must load it once
// and share the returned value.
type Vendor struct {
	mu  sync.Mutex
	lib *library
}

// LoadVendor loads the shared library at path and resolves every entry
// point the bridge uses.
func LoadVendor(path string) (*Vendor, error) {
	lib, err := loadLibrary(path)
	if err != nil {
		return nil, err
	}
	return &Vendor{lib: lib}, nil
}

// Open calls the library's open-connection entry point
func (v *Vendor) Open(modelID int, printerName, port string, baud int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lib.open(modelID, printerName, port, baud)
}

// Close calls the library's close-connection entry point
func (v *Vendor) Close() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lib.close()
}

// CutPaper calls the library's cut entry point
func (v *Vendor) CutPaper(feedLines int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lib.cut(feedLines)
}

// PrintText calls the library's print-text entry point
func (v *Vendor) PrintText(text string, align Align, bold, underline bool) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lib.printText(text, int(align), vendorStyle(bold, underline), textSizeNormal)
}

// Unload releases the shared library
func (v *Vendor) Unload() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lib.release()
}
