// Package addr converts operator supplied numbers into 64-bit addresses.
//
// Parsing is intentionally permissive: it follows the rules of the C
// library's strtoull, so trailing garbage is dropped and input without any
// digits parses as zero. Existing scripts and configuration documents rely
// on this behavior.
package addr

import (
	"math"
	"math/bits"
	"strconv"
)

// Parse returns the value represented by s.
//
// The empty string is 0. Strings longer than two characters that start with
// 0x or 0X are read as hexadecimal, strings longer than two characters that
// start with 0b or 0B are read as binary, everything else is decimal.
func Parse(s string) uint64 {
	if len(s) == 0 {
		return 0
	}
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			return parseUint(s, 16)
		case 'b', 'B':
			return parseUint(s[2:], 2)
		}
	}
	return parseUint(s, 10)
}

// Format returns v as a lowercase, 0x prefixed hexadecimal string.
func Format(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// parseUint mirrors strtoull(s, NULL, base) for bases up to 16.
func parseUint(s string, base uint64) uint64 {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	// strtoull only consumes the 0x prefix when a hex digit follows it,
	// otherwise it stops after the leading zero.
	if base == 16 && i+2 < len(s) && s[i] == '0' && (s[i+1] == 'x' || s[i+1] == 'X') && digit(s[i+2]) < 16 {
		i += 2
	}

	var (
		v        uint64
		overflow bool
		seen     bool
	)
	for ; i < len(s); i++ {
		d := digit(s[i])
		if d >= base {
			break
		}
		seen = true
		if overflow {
			continue
		}
		hi, lo := bits.Mul64(v, base)
		sum, carry := bits.Add64(lo, d, 0)
		if hi != 0 || carry != 0 {
			overflow = true
			continue
		}
		v = sum
	}

	switch {
	case !seen:
		return 0
	case overflow:
		return math.MaxUint64
	case neg:
		return -v
	}
	return v
}

func digit(c byte) uint64 {
	switch {
	case '0' <= c && c <= '9':
		return uint64(c - '0')
	case 'a' <= c && c <= 'f':
		return uint64(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return uint64(c-'A') + 10
	}
	return math.MaxUint64
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
