package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count written the way humanize reads it: "512MiB",
// "2 GB" or a bare number. KB and friends are powers of 1000, KiB powers
// of 1024.
type ByteSize int64

// ParseByteSize parses s with humanize.ParseBytes.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("byte size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("byte size %q out of range", s)
	}
	return ByteSize(n), nil
}

func (b ByteSize) Bytes() int64 { return int64(b) }

// String renders binary units, e.g. "5.0 MiB".
func (b ByteSize) String() string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *ByteSize) UnmarshalText(text []byte) error {
	return decodeText(b, text, ParseByteSize)
}

// UnmarshalJSON also takes a bare number of bytes.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	return decodeJSON(b, data, ParseByteSize)
}

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// Duration extends time.Duration syntax with leading week and day terms,
// so retention can be written "30d" or "1w2d12h".
type Duration time.Duration

// ParseDuration accepts an optional sign, then optional "<n>w" and "<n>d"
// terms in that order, then anything time.ParseDuration accepts.
func ParseDuration(s string) (Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, fmt.Errorf("duration is empty")
	}

	sign := time.Duration(1)
	switch rest[0] {
	case '-':
		sign = -1
		fallthrough
	case '+':
		rest = rest[1:]
	}

	var total time.Duration
	for _, u := range [...]struct {
		unit byte
		size time.Duration
	}{{'w', week}, {'d', day}} {
		digits := len(rest) - len(strings.TrimLeft(rest, "0123456789"))
		if digits == 0 || digits == len(rest) || rest[digits] != u.unit {
			continue
		}
		n, err := strconv.ParseInt(rest[:digits], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
		total += time.Duration(n) * u.size
		rest = rest[digits+1:]
	}

	if rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("duration %q: sign must lead", s)
		}
		total += d
	}
	return Duration(sign * total), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// String is the inverse of ParseDuration: whole weeks and days first, the
// remainder in time.Duration form.
func (d Duration) String() string {
	rem := time.Duration(d)
	if rem == 0 {
		return "0s"
	}

	var sb strings.Builder
	if rem < 0 {
		sb.WriteByte('-')
		rem = -rem
	}
	if n := rem / week; n > 0 {
		sb.WriteString(strconv.FormatInt(int64(n), 10) + "w")
		rem %= week
	}
	if n := rem / day; n > 0 {
		sb.WriteString(strconv.FormatInt(int64(n), 10) + "d")
		rem %= day
	}
	if rem > 0 {
		sb.WriteString(rem.String())
	}
	return sb.String()
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(text []byte) error {
	return decodeText(d, text, ParseDuration)
}

// UnmarshalJSON also takes a bare number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	return decodeJSON(d, data, ParseDuration)
}

func decodeText[T any](dst *T, text []byte, parse func(string) (T, error)) error {
	v, err := parse(string(text))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// decodeJSON parses a JSON string with parse and stores a JSON number as
// the raw integer value.
func decodeJSON[T ~int64](dst *T, data []byte, parse func(string) (T, error)) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return decodeText(dst, []byte(s), parse)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*dst = T(n)
	return nil
}
