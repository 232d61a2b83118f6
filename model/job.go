package model

import "time"

type JobState string

const SCHEDULED JobState = "SCHEDULED"
const RUNNING JobState = "RUNNING"
const COMPLETED JobState = "COMPLETED"
const FAILED JobState = "FAILED"
const CANCELLED JobState = "CANCELLED"

func (s JobState) IsTerminal() bool {
	return s == COMPLETED || s == FAILED || s == CANCELLED
}

func (s JobState) IsValid() bool {
	switch s {
	case SCHEDULED, RUNNING, COMPLETED, FAILED, CANCELLED:
		return true
	}
	return false
}

// JobSpec is one scheduled send of one SendEmail block to one recipient.
// AttemptCount counts finished claims, so it is incremented on every
// transition out of RUNNING.
type JobSpec struct {
	Id           string    `json:"id"`
	FlowId       string    `json:"flowId"`
	BlockIndex   int       `json:"blockIndex"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	FireAt       time.Time `json:"fireAt"`
	State        JobState  `json:"state"`
	AttemptCount int       `json:"attemptCount"`
	Seq          int64     `json:"seq"`
	LastError    string    `json:"lastError,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ClaimedAt    time.Time `json:"claimedAt,omitempty"`
	FinishedAt   time.Time `json:"finishedAt,omitempty"`
}

func (j *JobSpec) Clone() *JobSpec {
	c := *j
	return &c
}

type ScheduleRequest struct {
	Sequence Sequence `json:"sequence"`
}

type ScheduleResponse struct {
	Message         string   `json:"message"`
	ScheduledEmails int      `json:"scheduledEmails"`
	FlowId          string   `json:"flowId"`
	Warnings        []string `json:"warnings,omitempty"`
}
