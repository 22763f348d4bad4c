// Package reporting assembles periodic trade reports from exchange fill
// history and delivers them as CSV and XLSX documents.
package reporting

import (
	"strconv"
	"strings"
	"time"
)

// Period is one completed reporting window, expressed in whole minutes.
// Start is the first second of the window, End the last.
type Period struct {
	Start time.Time
	End   time.Time
}

var periodChoices = map[int]bool{1: true, 5: true, 10: true, 15: true, 30: true, 60: true}

// NormalizePeriod parses the configured period length and clamps it to a
// supported choice. Anything unparsable falls back to hourly.
func NormalizePeriod(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || !periodChoices[n] {
		return 60
	}
	return n
}

// LastCompleted returns the most recent fully elapsed k-minute period as of
// now. The period currently running is never reported.
func LastCompleted(now time.Time, k int) Period {
	m0 := now.Unix() / 60
	endMin := (m0/int64(k))*int64(k) - 1
	startMin := endMin - int64(k) + 1
	return Period{
		Start: time.Unix(startMin*60, 0).UTC(),
		End:   time.Unix((endMin+1)*60-1, 0).UTC(),
	}
}

// Key identifies the period for the send-once cursor.
func (p Period) Key() string {
	return strconv.FormatInt(p.End.Unix()/60, 10)
}

// BuyWindow is the fill window for buys. The order that fills during minute
// m was placed for bar m+1, so buys sit one minute behind the bar window.
func (p Period) BuyWindow() (time.Time, time.Time) {
	return p.Start.Add(-time.Minute), p.End.Add(-time.Minute)
}

// SellWindow is the fill window for sells, which happen inside the bar.
func (p Period) SellWindow() (time.Time, time.Time) {
	return p.Start, p.End
}
