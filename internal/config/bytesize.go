package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes that supports human-readable parsing.
// Units use the binary (1024) base: "5MB" is 5*1024*1024 bytes, "1.5GB"
// is 1.5*1024^3 bytes. A bare number is taken as bytes. It implements
// encoding.TextUnmarshaler so it can be used directly in YAML config.
type ByteSize int64

// Size constants, binary base.
const (
	KB ByteSize = 1024
	MB ByteSize = 1024 * KB
	GB ByteSize = 1024 * MB
	TB ByteSize = 1024 * GB
)

var byteUnits = map[string]ByteSize{
	"":    1,
	"b":   1,
	"k":   KB,
	"kb":  KB,
	"kib": KB,
	"m":   MB,
	"mb":  MB,
	"mib": MB,
	"g":   GB,
	"gb":  GB,
	"gib": GB,
	"t":   TB,
	"tb":  TB,
	"tib": TB,
}

// ParseByteSize parses a human-readable byte size string such as
// "500KB", "1.5 GB", or "4096".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	numStr := s[:i]
	unitStr := strings.ToLower(strings.TrimSpace(s[i:]))

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid value %q", s)
	}
	mult, ok := byteUnits[unitStr]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unitStr)
	}
	return ByteSize(value * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a string
// with units or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns the size using the largest unit with a value >= 1.
func (b ByteSize) String() string {
	neg := ""
	if b < 0 {
		neg = "-"
		b = -b
	}
	switch {
	case b >= TB:
		return neg + formatByteUnit(float64(b)/float64(TB), "TB")
	case b >= GB:
		return neg + formatByteUnit(float64(b)/float64(GB), "GB")
	case b >= MB:
		return neg + formatByteUnit(float64(b)/float64(MB), "MB")
	case b >= KB:
		return neg + formatByteUnit(float64(b)/float64(KB), "KB")
	default:
		return fmt.Sprintf("%s%dB", neg, int64(b))
	}
}

func formatByteUnit(v float64, unit string) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%s", int64(v), unit)
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s + unit
}
