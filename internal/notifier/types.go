package notifier

import "time"

type Config struct {
	// RatePerSec bounds outbound requests. 0 means the default (2).
	RatePerSec int
	// Timeout bounds one Send call. 0 means the default (15s).
	Timeout time.Duration
}

type HistoryItem struct {
	At    time.Time
	Sink  string
	Title string
}

const historyLimit = 300
