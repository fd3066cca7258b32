package command

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFormat converts a C printf-style format string into a Go fmt format and returns the
// number of arguments it consumes. Length modifiers (h, hh, l, ll, L, z, j, t) are dropped,
// %i and %u become %d, and a '*' width or precision consumes an argument of its own.
func ParseFormat(format string) (string, int, error) {
	goFormat, verbs, err := parseFormat(format)
	return goFormat, len(verbs), err
}

// parseFormat returns the Go format and the conversion consuming each argument,
// '*' standing for a width or precision argument.
func parseFormat(format string) (string, []byte, error) {
	var sb strings.Builder
	var verbs []byte

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}

		start := i
		i++
		if i >= len(format) {
			return "", nil, fmt.Errorf("format %q: dangling %%", format)
		}
		if format[i] == '%' {
			sb.WriteString("%%")
			continue
		}

		sb.WriteByte('%')
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			sb.WriteByte(format[i])
			i++
		}
		i = copyWidth(format, i, &sb, &verbs)
		if i < len(format) && format[i] == '.' {
			sb.WriteByte('.')
			i = copyWidth(format, i+1, &sb, &verbs)
		}
		for i < len(format) && strings.IndexByte("hlLzjtq", format[i]) >= 0 {
			i++
		}
		if i >= len(format) {
			return "", nil, fmt.Errorf("format %q: incomplete conversion at offset %d", format, start)
		}

		conv := format[i]
		switch conv {
		case 'd', 'o', 'x', 'X', 'f', 'F', 'e', 'E', 'g', 'G', 'c', 's', 'p':
		case 'i', 'u':
			conv = 'd'
		case 'a':
			conv = 'x'
		case 'A':
			conv = 'X'
		default:
			return "", nil, fmt.Errorf("format %q: unsupported conversion %%%c", format, conv)
		}
		sb.WriteByte(conv)
		verbs = append(verbs, conv)
	}

	return sb.String(), verbs, nil
}

func copyWidth(format string, i int, sb *strings.Builder, verbs *[]byte) int {
	if i < len(format) && format[i] == '*' {
		sb.WriteByte('*')
		*verbs = append(*verbs, '*')
		return i + 1
	}
	for i < len(format) && format[i] >= '0' && format[i] <= '9' {
		sb.WriteByte(format[i])
		i++
	}
	return i
}

// CheckArity verifies that format consumes exactly argc arguments
func CheckArity(format string, argc int) error {
	_, want, err := ParseFormat(format)
	if err != nil {
		return err
	}
	if want != argc {
		return fmt.Errorf("format %q expects %d argument(s), got %d", format, want, argc)
	}
	return nil
}

// ConvertArgs turns textual values into the argument types format expects:
// integers for %d %o %x %X %c and '*', floats for %f %e %g, strings otherwise.
func ConvertArgs(format string, values []string) ([]any, error) {
	_, verbs, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	if len(verbs) != len(values) {
		return nil, fmt.Errorf("format %q expects %d argument(s), got %d", format, len(verbs), len(values))
	}

	args := make([]any, len(values))
	for i, v := range values {
		switch verbs[i] {
		case 'd', 'o', 'x', 'X', 'c', '*':
			n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d (%q) is not an integer", i+1, v)
			}
			if verbs[i] == '*' {
				args[i] = int(n)
			} else {
				args[i] = n
			}
		case 'f', 'F', 'e', 'E', 'g', 'G':
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d (%q) is not a number", i+1, v)
			}
			args[i] = f
		default:
			args[i] = v
		}
	}
	return args, nil
}
