package util

import (
    "strconv"
    "strings"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
    if s == "" {
        return def
    }
    v, err := strconv.Atoi(s)
    if err != nil {
        return def
    }
    return v
}

// ParseFloat parses a finite float, rejecting NaN and infinities.
func ParseFloat(s string) (float64, bool) {
    v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
    if err != nil || v != v || v > 1e308 || v < -1e308 {
        return 0, false
    }
    return v, true
}

// SplitNonEmpty splits s on sep and drops blank items.
func SplitNonEmpty(s, sep string) []string {
    var out []string
    for _, part := range strings.Split(s, sep) {
        if p := strings.TrimSpace(part); p != "" {
            out = append(out, p)
        }
    }
    return out
}
