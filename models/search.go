package models

// Status of an aggregation run as seen by a poller.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// SearchStatus is the poll response for an aggregation handle.
type SearchStatus struct {
	Status    Status     `json:"status"`
	Results   []*Listing `json:"results,omitempty"`
	Summary   *Summary   `json:"summary,omitempty"`
	Error     string     `json:"error,omitempty"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
}
