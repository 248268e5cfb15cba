// Package normalizer handles amount, date and description cleanup for
// statement rows.
package normalizer

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

const (
	isoDate = "2006-01-02"

	// DescriptionPlaceholder replaces a blank description.
	DescriptionPlaceholder = "名称なし"
)

var ErrInvalidAmount = errors.New("invalid amount format")

var (
	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount converts a statement amount to an integer in the smallest
// currency unit. Thousands separators, whitespace, currency symbols and 円
// are stripped; a leading △ or ▲ marks a negative amount. Fractions are
// truncated. Exponents, a sign after △/▲ and values outside int64 are
// rejected.
func ParseAmount(raw string) (int64, error) {
	s := width.Narrow.String(raw)

	negative := false
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "△") || strings.HasPrefix(s, "▲") {
		negative = true
		s = strings.TrimLeft(s, "△▲")
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || r == '円' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, s)
	if cleaned == "" || strings.ContainsAny(cleaned, "eE") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative && strings.ContainsAny(cleaned[:1], "+-") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	d = d.Truncate(0)
	if d.GreaterThan(maxAmount) || d.LessThan(minAmount) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, raw)
	}
	amount := d.IntPart()
	if negative {
		amount = -amount
	}
	return amount, nil
}

// DateFallbackWarning records that a row's date could not be read and the
// processing date was used instead.
type DateFallbackWarning struct {
	Raw         string
	Substituted string
}

func (w *DateFallbackWarning) Error() string {
	if w.Raw == "" {
		return "empty date, using " + w.Substituted
	}
	return fmt.Sprintf("unrecognised date %q, using %s", w.Raw, w.Substituted)
}

var (
	isoPattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	kanjiPattern    = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日`)
	ymdSlashPattern = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})`)
	mdySlashPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})`)
)

// NormalizeDate renders raw as YYYY-MM-DD. It tries, in order, an ISO
// prefix, YYYY年M月D日, YYYY/M/D and M/D/YYYY. Anything else, including a
// match that is not a real calendar date, yields now's date and a warning.
func NormalizeDate(raw string, now time.Time) (string, *DateFallbackWarning) {
	s := strings.TrimSpace(width.Narrow.String(raw))

	if isoPattern.MatchString(s) {
		if d, ok := validDate(s[:10]); ok {
			return d, nil
		}
	} else if m := kanjiPattern.FindStringSubmatch(s); m != nil {
		if d, ok := render(m[1], m[2], m[3]); ok {
			return d, nil
		}
	} else if m := ymdSlashPattern.FindStringSubmatch(s); m != nil {
		if d, ok := render(m[1], m[2], m[3]); ok {
			return d, nil
		}
	} else if m := mdySlashPattern.FindStringSubmatch(s); m != nil {
		if d, ok := render(m[3], m[1], m[2]); ok {
			return d, nil
		}
	}

	today := now.Format(isoDate)
	return today, &DateFallbackWarning{Raw: raw, Substituted: today}
}

func render(year, month, day string) (string, bool) {
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return validDate(fmt.Sprintf("%s-%02d-%02d", year, m, d))
}

func validDate(s string) (string, bool) {
	if _, err := time.Parse(isoDate, s); err != nil {
		return "", false
	}
	return s, true
}

// ResolveDescription returns raw unchanged unless it is blank.
func ResolveDescription(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return DescriptionPlaceholder
	}
	return raw
}
