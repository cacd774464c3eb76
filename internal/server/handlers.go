package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

type enqueueRequest struct {
	Type    models.JobType    `json:"type"`
	Payload models.JobPayload `json:"payload"`
}

type materializeRequest struct {
	Sources      []models.SourceSpec `json:"sources"`
	ChunkSize    int                 `json:"chunk_size,omitempty"`
	ChunkOverlap int                 `json:"chunk_overlap,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
	})
}

// handleEnqueue validates the payload and enqueues the job on its type's
// queue. Unknown job types and malformed source specs are rejected here, not
// on the worker.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := req.Payload.Validate(req.Type); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	repo, ok := s.repos[req.Type]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown job type: %q", req.Type))
		return
	}

	id, err := repo.Enqueue(r.Context(), req.Type, req.Payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(req.Type)).Msg("Enqueue failed")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to enqueue job"))
		return
	}

	s.logger.Info().Int64("job_id", id).Str("type", string(req.Type)).Msg("Job enqueued")
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "type": req.Type})
}

// handleListJobs lists jobs across all queues, newest first, optionally
// filtered by ?type= and ?status=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", raw))
			return
		}
		limit = n
	}

	var repos []interfaces.JobRepository
	if typeFilter := r.URL.Query().Get("type"); typeFilter != "" {
		repo, ok := s.repos[models.JobType(typeFilter)]
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown job type: %q", typeFilter))
			return
		}
		repos = append(repos, repo)
	} else {
		for _, jobType := range models.KnownJobTypes() {
			if repo, ok := s.repos[jobType]; ok {
				repos = append(repos, repo)
			}
		}
	}

	jobs := make([]*models.Job, 0, limit)
	for _, repo := range repos {
		list, err := repo.List(r.Context(), status, limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("List jobs failed")
			writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to list jobs"))
			return
		}
		jobs = append(jobs, list...)
	}

	sortJobsNewestFirst(jobs)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	job, err := s.findJob(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to load job"))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	job, err := s.findJob(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to load job"))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %d not found", id))
		return
	}

	canceled, err := s.repos[job.Type].Cancel(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("job_id", id).Msg("Cancel failed")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to cancel job"))
		return
	}
	if !canceled {
		writeError(w, http.StatusConflict, fmt.Errorf("job %d is not cancelable (status %s)", id, job.Status))
		return
	}

	s.logger.Info().Int64("job_id", id).Msg("Job canceled")
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": models.JobStatusCanceled})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	job, err := s.findJob(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to load job"))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %d not found", id))
		return
	}

	retried, err := s.repos[job.Type].Retry(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("job_id", id).Msg("Retry failed")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to retry job"))
		return
	}
	if !retried {
		writeError(w, http.StatusConflict, fmt.Errorf("job %d is not retryable (status %s)", id, job.Status))
		return
	}

	s.logger.Info().Int64("job_id", id).Msg("Job re-pended")
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": models.JobStatusPending})
}

// handleMaterialize runs a source traversal and stores the resulting manifest,
// returning the artifact key for later jobs to reference. Traversals can be
// slow; callers own the request timeout.
func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Sources) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("sources cannot be empty"))
		return
	}
	for i := range req.Sources {
		if err := req.Sources[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("sources[%d]: %w", i, err))
			return
		}
	}

	key, err := s.materializer.Materialize(r.Context(), req.Sources, req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Materialize failed")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to materialize sources"))
		return
	}

	manifest, err := s.artifacts.GetManifest(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read back manifest"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"artifact_key": key, "count": manifest.Count})
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	manifest, err := s.artifacts.GetManifest(r.Context(), key)
	if err != nil {
		if errors.Is(err, interfaces.ErrManifestNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("manifest %q not found", key))
			return
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Manifest load failed")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to load manifest"))
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// findJob locates a job by id across the per-type queues. IDs are unique
// across queues on both backends, so the first hit is the job.
func (s *Server) findJob(r *http.Request, id int64) (*models.Job, error) {
	for _, jobType := range models.KnownJobTypes() {
		repo, ok := s.repos[jobType]
		if !ok {
			continue
		}
		job, err := repo.Get(r.Context(), id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

func parseJobID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id: %q", raw)
	}
	return id, nil
}

func sortJobsNewestFirst(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
