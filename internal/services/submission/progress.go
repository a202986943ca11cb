package submission

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProgressRunning     = "processing"
	ProgressCompleted   = "completed"
	ProgressFailed      = "failed"
	ProgressInterrupted = "interrupted"
)

// Progress is a snapshot; each update stores a new value.
type Progress struct {
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed_count"`
	Approved   int        `json:"approved"`
	Errors     int        `json:"errors"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Submitter) storeProgress(uploadID uuid.UUID, p Progress) {
	s.progressCache.Store(uploadID, p)
}

func (s *Submitter) GetProgress(uploadID uuid.UUID) (Progress, bool) {
	v, ok := s.progressCache.Load(uploadID)
	if !ok {
		return Progress{}, false
	}
	return v.(Progress), true
}
