package analytics

import (
	"math"
	"strconv"
	"strings"
)

// FormatMoney rounds v to an integer and groups thousands with spaces:
// 12345678.4 gives "12 345 678 TND".
func FormatMoney(v float64, unit string) string {
	s := groupThousands(int64(math.Round(v)))
	if unit == "" {
		return s
	}
	return s + " " + unit
}

func groupThousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	return b.String()
}

func yearSuffix(year int) string {
	if year == 0 {
		return ""
	}
	return " (année " + strconv.Itoa(year) + ")"
}

func (e *Engine) total(v float64, year int) string {
	return "Le total est " + FormatMoney(v, e.unit) + yearSuffix(year)
}
