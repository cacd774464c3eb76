// -----------------------------------------------------------------------
// Job - Persistent unit of work with a lifecycle state machine
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType classifies a job; each type maps to its own logical queue.
type JobType string

const (
	JobTypeIngest         JobType = "ingest"
	JobTypeChecksumUpdate JobType = "checksum_update"
	JobTypePrune          JobType = "prune"
)

// KnownJobTypes lists the job types the core dispatches. The set is open for
// extension; unknown types are rejected at enqueue time.
func KnownJobTypes() []JobType {
	return []JobType{JobTypeIngest, JobTypeChecksumUpdate, JobTypePrune}
}

// Valid reports whether the job type is one the core knows how to run.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeIngest, JobTypeChecksumUpdate, JobTypePrune:
		return true
	}
	return false
}

// Queue returns the logical queue name a job type is served on.
func (t JobType) Queue() string {
	return string(t)
}

// JobStatus tracks the lifecycle state of a job.
//
//	pending ──fetch──▶ processing ──complete──▶ completed
//	   ▲                   │
//	   │                   ├──fail──▶ failed
//	   │                   └──cancel▶ canceled
//	   └───retry(from failed|canceled)
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// Job is the persistent record of work owned by the job repository.
type Job struct {
	ID            int64      `json:"id"`
	Queue         string     `json:"queue"`
	Type          JobType    `json:"type"`
	Payload       JobPayload `json:"payload"`
	Status        JobStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	Error         string     `json:"error,omitempty"`
	ProgressDone  int        `json:"progress_done"`
	ProgressTotal int        `json:"progress_total"`
	ProgressNote  string     `json:"progress_note,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal returns true if the job has reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.Terminal()
}

// JobPayload is the shared envelope for ingest, checksum_update and prune jobs.
// Either ArtifactKey references a prebuilt manifest, or Sources describes an
// inline materialization.
type JobPayload struct {
	ArtifactKey  string       `json:"artifact_key,omitempty"`
	Sources      []SourceSpec `json:"sources,omitempty"`
	ChunkSize    int          `json:"chunk_size,omitempty"`
	ChunkOverlap int          `json:"chunk_overlap,omitempty"`
	Force        bool         `json:"force,omitempty"`
	PruneScope   *PruneScope  `json:"prune_scope,omitempty"`
}

// Validate checks the payload envelope for a given job type. Source specs are
// validated exhaustively so unknown source tags fail at enqueue time, not on
// the worker.
func (p *JobPayload) Validate(jobType JobType) error {
	if !jobType.Valid() {
		return fmt.Errorf("unknown job type: %q", jobType)
	}
	needsManifest := jobType != JobTypePrune ||
		(p.PruneScope != nil && p.PruneScope.NeedsManifest())
	if needsManifest && p.ArtifactKey == "" && len(p.Sources) == 0 {
		return fmt.Errorf("payload requires artifact_key or sources")
	}
	for i := range p.Sources {
		if err := p.Sources[i].Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	if p.ChunkSize < 0 {
		return fmt.Errorf("chunk_size cannot be negative")
	}
	if p.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap cannot be negative")
	}
	if jobType == JobTypePrune {
		if p.PruneScope == nil {
			return fmt.Errorf("prune job requires prune_scope")
		}
		if err := p.PruneScope.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ToJSON serializes the payload for persistence.
func (p *JobPayload) ToJSON() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return data, nil
}

// JobPayloadFromJSON deserializes a payload from its persisted form.
func JobPayloadFromJSON(data []byte) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return JobPayload{}, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return p, nil
}

// PruneScope is a conjunction of selectors bounding which vector rows are
// candidates for deletion. An empty scope is a precondition error: pruning
// never deletes without an explicit candidate bound.
type PruneScope struct {
	MetadataRepoIn           []string `json:"metadata_repo_in,omitempty"`
	MetadataRepoFromManifest bool     `json:"metadata_repo_from_manifest,omitempty"`
	DocIDPrefixes            []string `json:"doc_id_prefixes,omitempty"`
	DocIDInFromManifest      bool     `json:"doc_id_in_from_manifest,omitempty"`
}

// Empty reports whether no selector is active.
func (s *PruneScope) Empty() bool {
	return len(s.MetadataRepoIn) == 0 &&
		!s.MetadataRepoFromManifest &&
		len(s.DocIDPrefixes) == 0 &&
		!s.DocIDInFromManifest
}

// NeedsManifest reports whether any active selector derives its bound from a
// manifest.
func (s *PruneScope) NeedsManifest() bool {
	return s.MetadataRepoFromManifest || s.DocIDInFromManifest
}

// Validate rejects scopes with no active selector.
func (s *PruneScope) Validate() error {
	if s.Empty() {
		return fmt.Errorf("prune_scope requires at least one selector")
	}
	return nil
}
