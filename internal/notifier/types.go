package notifier

import "time"

// Config controls outbound delivery.
type Config struct {
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
	RetryMax    int
	RetryBase   time.Duration
	HistorySize int
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	OwnerID string    `json:"owner_id"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
}
