package types

import "time"

type Failure struct {
	Identity string `json:"identity"`
	AudioRef string `json:"audio_ref"`
	Stage    string `json:"stage"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// BatchReport is the aggregate result of one batch invocation.
type BatchReport struct {
	RunID             string    `json:"run_id"`
	Pending           int       `json:"pending"`
	Processed         int       `json:"processed"`
	Failed            int       `json:"failed"`
	Skipped           int       `json:"skipped"`
	Failures          []Failure `json:"failures"`
	TranscriptionCost float64   `json:"transcription_cost"`
	JudgeCost         float64   `json:"judge_cost"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

func (r BatchReport) Attempted() int {
	return r.Processed + r.Failed + r.Skipped
}

func (r BatchReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
