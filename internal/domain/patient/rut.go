package patient

import (
	"fmt"
	"regexp"
	"strings"
)

var rutPattern = regexp.MustCompile(`^[0-9]+-[0-9K]$`)

// NormalizeRUT strips dots, spaces and dashes and returns the RUT as
// "<number>-<check digit>" with an uppercase K.
func NormalizeRUT(rut string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(rut) {
		if (r >= '0' && r <= '9') || r == 'K' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if len(clean) < 2 {
		return clean
	}
	return clean[:len(clean)-1] + "-" + clean[len(clean)-1:]
}

// ValidRUT reports whether rut, in normalized form, carries a correct
// modulo-11 check digit.
func ValidRUT(rut string) bool {
	if !rutPattern.MatchString(rut) {
		return false
	}
	num, dv, _ := strings.Cut(rut, "-")
	return checkDigit(num) == dv
}

func checkDigit(num string) string {
	sum, mul := 0, 2
	for i := len(num) - 1; i >= 0; i-- {
		sum += int(num[i]-'0') * mul
		if mul == 7 {
			mul = 2
		} else {
			mul++
		}
	}
	switch d := 11 - sum%11; d {
	case 11:
		return "0"
	case 10:
		return "K"
	default:
		return fmt.Sprint(d)
	}
}
