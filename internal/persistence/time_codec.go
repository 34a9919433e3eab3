package persistence

import "time"

func timeToUnixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

func unixNanosToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.Unix(0, v).UTC()
}
