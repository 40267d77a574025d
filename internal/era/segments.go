package era

import (
	"fmt"
	"strings"
)

// writer builds the line-oriented segment stream. Elements are joined with
// "*", each segment is terminated with "~" and emitted on its own line.
type writer struct {
	b     strings.Builder
	count int
}

func (w *writer) seg(elements ...string) {
	w.b.WriteString(strings.Join(elements, "*"))
	w.b.WriteString("~\n")
	w.count++
}

func (w *writer) String() string { return w.b.String() }

// formatCents renders integer cents as a decimal dollar string with no
// trailing zeros, the way remittance amounts are written on the wire.
func formatCents(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole, frac := cents/100, cents%100
	var s string
	switch {
	case frac == 0:
		s = fmt.Sprintf("%d", whole)
	case frac%10 == 0:
		s = fmt.Sprintf("%d.%d", whole, frac/10)
	default:
		s = fmt.Sprintf("%d.%02d", whole, frac)
	}
	if neg {
		return "-" + s
	}
	return s
}

// compactDate strips separators from a YYYY-MM-DD date for the CCYYMMDD
// element format. Unrecognized input passes through stripped, never dropped.
func compactDate(date string) string {
	return strings.NewReplacer("-", "", "/", "").Replace(strings.TrimSpace(date))
}

// padRight space-pads or truncates to exactly n characters, as the
// fixed-width interchange header elements require.
func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
