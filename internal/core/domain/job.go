package domain

import "time"

// ProcessingJob is the queue payload handed to pipeline workers. The attempt
// counter travels with the message; the relational store never sees it.
type ProcessingJob struct {
	CallID     string    `json:"call_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewProcessingJob(callID string) ProcessingJob {
	return ProcessingJob{
		CallID:     callID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Next is the redelivery of this job after a failed attempt.
func (j ProcessingJob) Next() ProcessingJob {
	return ProcessingJob{
		CallID:     j.CallID,
		Attempt:    j.Attempt + 1,
		EnqueuedAt: time.Now().UTC(),
	}
}
