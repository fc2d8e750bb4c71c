package version

import "time"

// Commit records one simulated data commit. IDs are 12 hex characters,
// derived from the path, message and timestamp.
type Commit struct {
	ID          string            `json:"commit_id"`
	Repository  string            `json:"repository"`
	Branch      string            `json:"branch"`
	Path        string            `json:"path"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CommittedAt time.Time         `json:"committed_at"`
}

// Branch summarises the commits on one branch.
type Branch struct {
	Name        string    `json:"name"`
	CommitCount int       `json:"commit_count"`
	HeadCommit  string    `json:"head_commit"`
	UpdatedAt   time.Time `json:"updated_at"`
}
