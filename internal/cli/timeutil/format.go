// Package timeutil provides helpers for formatting timestamps in CLI output.
package timeutil

import "time"

// LocalTimeFormat is the layout used for timestamps shown to the user.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatTime converts an RFC3339 timestamp to local time for display.
// The input is returned unchanged when it does not parse.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format(LocalTimeFormat)
}
