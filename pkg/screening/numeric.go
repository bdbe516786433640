package screening

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	errNoNumber     = errors.New("no numeric value found")
	errBadOperator  = errors.New("unsupported operator")
	errBadRange     = errors.New("malformed range value")
	numberPattern   = regexp.MustCompile(`[-+]?\d*\.?\d+`)
	comparatorRunes = ">=<±"
)

// ParseNumericValue extracts the first number from free-form record or
// threshold text. Comparator prefixes and trailing units are tolerated,
// e.g. "<50", ">= 100", "7.4%", "120 mmHg". A leading minus is part of
// the value, not a comparator: "-2.5" stays negative.
func ParseNumericValue(raw string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	cleaned = strings.TrimLeft(cleaned, comparatorRunes+" ")
	match := numberPattern.FindString(cleaned)
	if match == "" {
		return 0, errNoNumber
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, errNoNumber
	}
	return value, nil
}

// CalculateAge returns whole years between birthdate and the reference
// instant, decrementing when the birthday has not yet occurred this year.
func CalculateAge(birthdate, now time.Time) int {
	years := now.Year() - birthdate.Year()
	anniversary := time.Date(now.Year(), birthdate.Month(), birthdate.Day(), 0, 0, 0, 0, time.UTC)
	ref := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if ref.Before(anniversary) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return years
}

// CompareValues applies a threshold operator. BETWEEN expects the value
// string to be "low-high"; every other operator expects one number.
func CompareValues(observed float64, operator, value string) (bool, error) {
	op := strings.ToUpper(strings.TrimSpace(operator))
	if op == "BETWEEN" {
		low, high, err := parseRange(value)
		if err != nil {
			return false, err
		}
		return observed >= low && observed <= high, nil
	}

	threshold, err := ParseNumericValue(value)
	if err != nil {
		return false, err
	}
	switch op {
	case ">":
		return observed > threshold, nil
	case ">=":
		return observed >= threshold, nil
	case "<":
		return observed < threshold, nil
	case "<=":
		return observed <= threshold, nil
	case "==", "=", "":
		return observed == threshold, nil
	default:
		return false, errBadOperator
	}
}

// parseRange splits "low-high" on the separator dash; the dash is never
// a sign here.
func parseRange(value string) (float64, float64, error) {
	parts := strings.SplitN(strings.TrimSpace(value), "-", 2)
	if len(parts) < 2 {
		return 0, 0, errBadRange
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, errBadRange
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, errBadRange
	}
	if low > high {
		low, high = high, low
	}
	return low, high, nil
}
