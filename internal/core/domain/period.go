package domain

import (
	"strconv"
	"strings"
)

// PeriodKeys expands a canonical period into every coarser period it belongs
// to, most general first: "2025-08-31" -> 2025, 2025-Q3, 2025-08, 2025-08-31.
// Indexes store the keys so that a filter on any granularity is an exact
// keyword match.
func PeriodKeys(period string) []string {
	period = strings.TrimSpace(period)
	if period == "" {
		return nil
	}
	parts := strings.Split(period, "-")
	year := parts[0]
	if len(year) != 4 {
		return []string{period}
	}
	keys := []string{year}
	if len(parts) == 1 {
		return keys
	}
	second := parts[1]
	if strings.HasPrefix(second, "Q") {
		return append(keys, year+"-"+second)
	}
	month, err := strconv.Atoi(second)
	if err != nil || month < 1 || month > 12 {
		return append(keys, period)
	}
	quarter := year + "-Q" + strconv.Itoa((month-1)/3+1)
	keys = append(keys, quarter, year+"-"+second)
	if len(parts) > 2 {
		keys = append(keys, period)
	}
	return keys
}

// PeriodMatches reports whether the stored period falls under the wanted one.
// "2025-08" matches "2025-08" and "2025-08-31"; "2025" matches all of 2025.
func PeriodMatches(stored, wanted string) bool {
	if stored == "" || wanted == "" {
		return false
	}
	for _, key := range PeriodKeys(stored) {
		if key == wanted {
			return true
		}
	}
	return false
}
