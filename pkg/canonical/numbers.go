package canonical

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	plainIntegerRe   = regexp.MustCompile(`^-?[0-9]+$`)
	scientificTrimRe = regexp.MustCompile(`(\.?0*)e([-+])0?`)
)

// numberString mimics JavaScript's Number#toString() on n, as required by
// §4.1: NaN/±Infinity become "null"; integers below 1e21 are plain decimal; values
// with |x| in (1e-6, 1e21) use fixed notation with trailing zeros (and a
// bare trailing dot) stripped; everything else uses scientific notation
// with no leading zero on the exponent and "e-0" collapsed to "e-".
func numberString(n json.Number) string {
	s := string(n)
	switch s {
	case "NaN", "Inf", "+Inf", "-Inf":
		return "null"
	}

	if plainIntegerRe.MatchString(s) {
		if isZeroInteger(s) {
			return "0"
		}
		if f, err := n.Float64(); err == nil && math.Abs(f) < 1e21 {
			return s
		}
	}

	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	return formatECMAScript(f)
}

func isZeroInteger(s string) bool {
	return strings.Trim(s, "-0") == ""
}

func formatECMAScript(f float64) string {
	if f == 0 {
		return "0"
	}

	abs := math.Abs(f)
	if abs < 1e-6 || abs >= 1e21 {
		sci := strconv.FormatFloat(f, 'e', -1, 64)
		return scientificTrimRe.ReplaceAllString(sci, "e$2")
	}

	return strconv.FormatFloat(f, 'f', -1, 64)
}
