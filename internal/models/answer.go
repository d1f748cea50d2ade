package models

import "time"

// Answer is the generator's output for one question, kept verbatim.
type Answer struct {
	Question    string        `json:"question"`
	Content     string        `json:"content"`
	Model       string        `json:"model"`
	GeneratedAt time.Time     `json:"generated_at"`
	Duration    time.Duration `json:"duration"`
}
