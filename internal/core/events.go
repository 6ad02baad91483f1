package core

import "github.com/book-expert/events"

// JobSubmittedEvent announces a newly queued job on the job stream. The
// full request lives in the job store; the event carries only the id so
// at-least-once redelivery stays cheap to guard against.
type JobSubmittedEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
}

// JobFinishedEvent announces a terminal job on the completion subject.
type JobFinishedEvent struct {
	Header       events.EventHeader `json:"header"`
	JobID        string             `json:"job_id"`
	Status       JobStatus          `json:"status"`
	OutputKey    string             `json:"output_key,omitempty"`
	ProfileID    string             `json:"profile_id,omitempty"`
	ErrorSummary string             `json:"error_summary,omitempty"`
}
