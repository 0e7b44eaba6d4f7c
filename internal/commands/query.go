package commands

import (
	"strconv"
	"strings"
	"time"
)

// queryArgs splits "key=value;key=value" pairs. Values may contain '='.
func queryArgs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = value
	}
	return out
}

// parseQueryTime reads an epoch in milliseconds or "HH:mm[,dd.MM.yyyy]".
// Missing date parts default to the date of now; missing time parts default
// to now, or to now minus window for a start bound.
func parseQueryTime(value string, start bool, now time.Time, window time.Duration) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}

	def := now
	if start {
		def = now.Add(-window)
	}
	clock, date, _ := strings.Cut(value, ",")

	hh, mm := def.Hour(), def.Minute()
	if clock != "" {
		h, m, _ := strings.Cut(clock, ":")
		var ok bool
		if hh, ok = component(h, hh); !ok {
			return time.Time{}, false
		}
		if mm, ok = component(m, mm); !ok {
			return time.Time{}, false
		}
	}

	year, month, day := now.Date()
	if date != "" {
		parts := strings.FieldsFunc(date, func(r rune) bool { return r == '.' || r == '/' || r == '\\' })
		vals := []int{day, int(month), year}
		if len(parts) > len(vals) {
			return time.Time{}, false
		}
		for i, p := range parts {
			v, ok := component(p, vals[i])
			if !ok {
				return time.Time{}, false
			}
			vals[i] = v
		}
		day, month, year = vals[0], time.Month(vals[1]), vals[2]
	}

	t := time.Date(year, month, day, hh, mm, 0, 0, now.Location())
	if t.Hour() != hh || t.Minute() != mm || t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

func component(s string, def int) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
