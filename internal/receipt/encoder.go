package receipt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Layout defaults
const (
	DefaultWidth  = 32
	DefaultFooter = "Obrigado pela preferência!"
)

// blankLinesBeforeCut are fed after the footer so the cut does not clip it
const blankLinesBeforeCut = 2

// EncodingError reports an order that cannot be turned into a receipt
type EncodingError struct {
	Reason string
	Item   int // index of the offending item, or -1
}

func (e *EncodingError) Error() string {
	if e.Item >= 0 {
		return fmt.Sprintf("encoding error: item %d: %s", e.Item, e.Reason)
	}
	return fmt.Sprintf("encoding error: %s", e.Reason)
}

type options struct {
	width  int
	footer string
	noCut  bool
}

// Option adjusts the receipt layout
type Option func(*options)

// WithWidth sets the separator width in columns
func WithWidth(width int) Option {
	return func(o *options) {
		if width > 0 {
			o.width = width
		}
	}
}

// WithFooter replaces the courtesy line printed after the total
func WithFooter(footer string) Option {
	return func(o *options) {
		o.footer = footer
	}
}

// WithoutCut suppresses the paper cut
func WithoutCut() Option {
	return func(o *options) {
		o.noCut = true
	}
}

func newOptions(opts []Option) options {
	o := options{width: DefaultWidth, footer: DefaultFooter}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Build lays out an order receipt:
//
//	PEDIDO #1234            centered, bold
//	--------------------------------
//	Tapioca x1 - R$ 32.00   one per item
//	--------------------------------
//	TOTAL: R$ 32.00         bold
//	Obrigado pela preferência!
//	(two blank lines)
//
// The total is the sum of the item amounts, not order.Total. Build is pure:
// the same order and options always produce an equal job.
func Build(order Order, opts ...Option) (PrintJob, error) {
	o := newOptions(opts)

	if len(order.Items) == 0 {
		return PrintJob{}, &EncodingError{Reason: "order has no items", Item: -1}
	}

	separator := Line{Text: strings.Repeat("-", o.width), Align: AlignLeft}

	lines := make([]Line, 0, len(order.Items)+8)
	lines = append(lines, Line{Text: "PEDIDO #" + string(order.Number), Align: AlignCenter, Bold: true})
	lines = append(lines, separator)

	var total int64
	for i, item := range order.Items {
		if item.Quantity <= 0 {
			return PrintJob{}, &EncodingError{Reason: fmt.Sprintf("quantity must be positive, got %d", item.Quantity), Item: i}
		}
		if item.Price < 0 {
			return PrintJob{}, &EncodingError{Reason: fmt.Sprintf("price must not be negative, got %v", item.Price), Item: i}
		}
		unit, err := toCents(item.Price)
		if err != nil {
			return PrintJob{}, &EncodingError{Reason: err.Error(), Item: i}
		}
		amount, ok := addAmount(total, unit, item.Quantity)
		if !ok {
			return PrintJob{}, &EncodingError{Reason: "amount out of range", Item: i}
		}
		total += amount

		lines = append(lines, Line{
			Text:  fmt.Sprintf("%s x%d - R$ %s", item.Name, item.Quantity, formatCents(amount)),
			Align: AlignLeft,
		})
	}

	lines = append(lines, separator)
	lines = append(lines, Line{Text: "TOTAL: R$ " + formatCents(total), Align: AlignLeft, Bold: true})
	lines = appendFooter(lines, o)

	return PrintJob{lines: lines, cutPaper: !o.noCut}, nil
}

// BuildText lays out free text, one left-aligned line per input line,
// followed by the blank feed lines.
func BuildText(text string, opts ...Option) (PrintJob, error) {
	o := newOptions(opts)

	if strings.TrimSpace(text) == "" {
		return PrintJob{}, &EncodingError{Reason: "text is empty", Item: -1}
	}

	var lines []Line
	for _, s := range strings.Split(strings.TrimRight(text, "\r\n"), "\n") {
		lines = append(lines, Line{Text: strings.TrimRight(s, "\r"), Align: AlignLeft})
	}
	for i := 0; i < blankLinesBeforeCut; i++ {
		lines = append(lines, Line{Align: AlignLeft})
	}

	return PrintJob{lines: lines, cutPaper: !o.noCut}, nil
}

func appendFooter(lines []Line, o options) []Line {
	if o.footer != "" {
		lines = append(lines, Line{Text: o.footer, Align: AlignCenter})
	}
	for i := 0; i < blankLinesBeforeCut; i++ {
		lines = append(lines, Line{Align: AlignLeft})
	}
	return lines
}

// toCents converts a price to whole cents. The price is read as the shortest
// decimal that round-trips the float (32.005 stays 32.005) and rounded half
// away from zero at the third decimal, so 32.005 becomes 3201 cents.
func toCents(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid price %v", v)
	}

	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	frac += "000"

	cents, err := strconv.ParseInt(whole+frac[:2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price out of range: %v", v)
	}
	if frac[2] >= '5' {
		cents++
	}
	if v < 0 {
		cents = -cents
	}
	return cents, nil
}

// addAmount returns unit*quantity, and false when that amount or its sum
// with total does not fit in an int64. unit and total are non-negative.
func addAmount(total, unit int64, quantity int) (int64, bool) {
	q := int64(quantity)
	if unit != 0 && q > math.MaxInt64/unit {
		return 0, false
	}
	amount := unit * q
	if amount > math.MaxInt64-total {
		return 0, false
	}
	return amount, true
}

// formatCents renders cents with exactly two decimals and a dot separator
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
