package lexicon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Temporal is the result of scanning text for date and period expressions.
// Period is empty when the expression is relative ("last quarter", "YoY").
type Temporal struct {
	Found      bool
	Period     string
	Expression string
}

const yearPattern = `((?:19|20)\d{2})`

var (
	dayDateRe   = regexp.MustCompile(`\b` + yearPattern + `-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])\b`)
	isoMonthRe  = regexp.MustCompile(`\b` + yearPattern + `-(0[1-9]|1[0-2])\b`)
	slashDateRe = regexp.MustCompile(`\b(0?[1-9]|1[0-2])/` + yearPattern + `\b`)
	monthYearRe = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?,?\s+(?:of\s+)?` + yearPattern + `\b`)
	quarterRe   = regexp.MustCompile(`(?i)\bq([1-4])\s*(?:fy\s*)?` + yearPattern + `\b`)
	yearQRe     = regexp.MustCompile(`(?i)\b(?:fy\s*)?` + yearPattern + `\s*q([1-4])\b`)
	nQuarterRe  = regexp.MustCompile(`(?i)\b([1-4])q\s*` + yearPattern + `\b`)
	ordinalQRe  = regexp.MustCompile(`(?i)\b(first|second|third|fourth|1st|2nd|3rd|4th)\s+quarter\s+(?:of\s+)?(?:fy\s*|fiscal\s+)?` + yearPattern + `\b`)
	fiscalRe    = regexp.MustCompile(`(?i)\b(?:fy|fiscal(?:\s+year)?)\s*` + yearPattern + `\b`)
	halfRe      = regexp.MustCompile(`(?i)\b(?:h[12]|first half|second half)\s+(?:of\s+)?(?:fy\s*)?` + yearPattern + `\b`)
	bareYearRe  = regexp.MustCompile(`\b` + yearPattern + `\b`)
	relativeRe  = regexp.MustCompile(`(?i)\b(?:(?:last|previous|prior|this|next|current)\s+(?:fiscal\s+)?(?:year|quarter|month)|ytd|yoy|qoq|year[- ]to[- ]date|year[- ]over[- ]year|quarter[- ]over[- ]quarter|(?:month|quarter|year)[- ]end)\b`)
)

var monthNumbers = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var ordinalQuarters = map[string]string{
	"first": "1", "1st": "1",
	"second": "2", "2nd": "2",
	"third": "3", "3rd": "3",
	"fourth": "4", "4th": "4",
}

// ParseTemporal finds the most specific period expression in text and
// normalizes it to the canonical format: "2025-08-31", "2025-08", "2025-Q3"
// or "2025".
func ParseTemporal(text string) Temporal {
	if m := dayDateRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[1] + "-" + m[2] + "-" + m[3], Expression: m[0]}
	}
	if m := monthYearRe.FindStringSubmatch(text); m != nil {
		month := monthNumbers[strings.ToLower(m[1])[:3]]
		return Temporal{Found: true, Period: fmt.Sprintf("%s-%02d", m[2], month), Expression: m[0]}
	}
	if m := isoMonthRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[1] + "-" + m[2], Expression: m[0]}
	}
	if m := slashDateRe.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		return Temporal{Found: true, Period: fmt.Sprintf("%s-%02d", m[2], month), Expression: m[0]}
	}
	if m := quarterRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[2] + "-Q" + m[1], Expression: m[0]}
	}
	if m := yearQRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[1] + "-Q" + m[2], Expression: m[0]}
	}
	if m := nQuarterRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[2] + "-Q" + m[1], Expression: m[0]}
	}
	if m := ordinalQRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[2] + "-Q" + ordinalQuarters[strings.ToLower(m[1])], Expression: m[0]}
	}
	if m := fiscalRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[1], Expression: m[0]}
	}
	if m := halfRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[1], Expression: m[0]}
	}
	if m := bareYearRe.FindStringSubmatch(text); m != nil {
		return Temporal{Found: true, Period: m[1], Expression: m[0]}
	}
	if m := relativeRe.FindString(text); m != "" {
		return Temporal{Found: true, Expression: m}
	}
	return Temporal{}
}
