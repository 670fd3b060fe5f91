package config

import "time"

// DefaultDatabaseMaxAge is used when the settings file leaves the max-age
// timer zeroed.
const DefaultDatabaseMaxAge = 7 * 24 * time.Hour

// Timer expresses a duration in whole days/hours/minutes/seconds, the shape
// used in the settings file.
type Timer struct {
	Days    uint32 `toml:"days"`
	Hours   uint32 `toml:"hours"`
	Minutes uint32 `toml:"minutes"`
	Seconds uint32 `toml:"seconds"`
}

// Duration converts the timer. A zeroed timer falls back to
// DefaultDatabaseMaxAge so an incomplete settings file cannot force a
// re-download on every run.
func (t Timer) Duration() time.Duration {
	ms := CalculateMillisecondsOfPeriod(t)
	if ms == 0 {
		return DefaultDatabaseMaxAge
	}
	return time.Duration(ms) * time.Millisecond
}

// CalculateMillisecondsOfPeriod returns the timer's total length in
// milliseconds.
func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}
