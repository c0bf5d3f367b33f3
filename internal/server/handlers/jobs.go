package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/simrun/internal/errors"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/status"
)

// UserHeader carries the authenticated user id, set by the fronting proxy.
const UserHeader = "X-Simrun-User"

const maxRequestBytes = 8 << 20

// JobService is the orchestration surface the job endpoints call.
type JobService interface {
	Run(ctx context.Context, id jobid.Identity, req *job.Request) (*job.ClientStatus, error)
	Status(ctx context.Context, id jobid.Identity, req *job.Request) (*job.ClientStatus, error)
	Cancel(ctx context.Context, id jobid.Identity) *job.ClientStatus
}

// Jobs serves run, status and cancel.
type Jobs struct {
	svc JobService
	log *zap.Logger
}

func NewJobs(svc JobService, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{svc: svc, log: logger}
}

func (h *Jobs) Run(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.svc.Run)
}

func (h *Jobs) Status(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.svc.Status)
}

func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	id, _, err := decodeJobRequest(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Cancel(r.Context(), id))
}

type jobCall func(ctx context.Context, id jobid.Identity, req *job.Request) (*job.ClientStatus, error)

func (h *Jobs) serve(w http.ResponseWriter, r *http.Request, call jobCall) {
	id, req, err := decodeJobRequest(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	st, err := call(r.Context(), id, req)
	if err != nil {
		if status.IsConfigError(err) {
			h.log.Error("simulation type configuration error",
				zap.String("job_identity", string(id)),
				zap.String("sim_type", req.SimulationType),
				zap.Error(err),
			)
			respondWithError(w, r, apperrors.NewConfigurationError("simulation type configuration error", err))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(err, "job request failed"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func decodeJobRequest(r *http.Request) (jobid.Identity, *job.Request, error) {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		return "", nil, apperrors.NewBadRequest("missing "+UserHeader+" header", nil)
	}

	var req job.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, apperrors.NewBadRequest("request body is empty", nil)
		}
		return "", nil, apperrors.NewBadRequest("invalid request body", err)
	}
	if strings.TrimSpace(req.SimulationType) == "" {
		return "", nil, apperrors.NewBadRequest("simulationType is required", nil)
	}

	id, err := jobid.New(user, req.SimulationID, req.ComputeModel)
	if err != nil {
		return "", nil, apperrors.NewBadRequest(fmt.Sprintf("invalid job identity for user %q", user), err)
	}
	return id, &req, nil
}
