package models

import "time"

// Exchange is the metadata of one request forwarded by the proxy and its outcome. Bodies are never
// recorded.
type Exchange struct {
	ID       string        `json:"id"`
	Method   string        `json:"method"`
	Path     string        `json:"path"`
	Upstream string        `json:"upstream"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
	Time     time.Time     `json:"time"`
}
