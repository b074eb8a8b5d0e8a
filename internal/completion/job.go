package completion

import (
	"time"

	"github.com/suPer8Hu/chatkeep/internal/ai"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a queued completion. It lives in redis with a TTL, not in the chat store;
// the client saves the reply into its chat like any other message.
type Job struct {
	ID       string       `json:"id"` // ULID
	Owner    string       `json:"owner"`
	Model    string       `json:"model"`
	Messages []ai.Message `json:"messages"`

	Status JobStatus `json:"status"`
	Reply  string    `json:"reply,omitempty"`
	Error  string    `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) Done() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}
