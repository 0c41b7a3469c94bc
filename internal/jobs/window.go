package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Window is an inclusive range of calendar days.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowFor returns the lookbackDays days ending yesterday. Today is never
// included because its data is partial.
func WindowFor(now time.Time, lookbackDays int) Window {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := today.AddDate(0, 0, -1)
	return Window{Start: end.AddDate(0, 0, -(lookbackDays - 1)), End: end}
}

// Days counts calendar days, so a window spanning a DST change in its own
// location still counts every day once.
func (w Window) Days() int {
	return int(civilDay(w.End)-civilDay(w.Start)) + 1
}

func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func (w Window) StartDate() string { return w.Start.Format(time.DateOnly) }
func (w Window) EndDate() string   { return w.End.Format(time.DateOnly) }

func (w Window) String() string { return w.StartDate() + ".." + w.EndDate() }

// WindowKey = sha256(job name + window start + window end). Runs that loaded
// the same window of the same job share a key.
func WindowKey(jobName string, w Window) string {
	sum := sha256.Sum256([]byte(jobName + "|" + w.StartDate() + "|" + w.EndDate()))
	return hex.EncodeToString(sum[:])
}
