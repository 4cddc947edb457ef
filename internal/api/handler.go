package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/circuitbreaker"
	"github.com/lalithlochan/contestpulse/internal/contest"
	"github.com/lalithlochan/contestpulse/internal/db"
	"github.com/lalithlochan/contestpulse/internal/jobs"
	"github.com/lalithlochan/contestpulse/internal/worker"
)

// MaxLimit caps the limit query parameter of GET /contests.
const MaxLimit = 500

// ContestStore is the read side of the contest store plus reminder creation.
type ContestStore interface {
	ListContests(ctx context.Context, f db.ContestFilter) ([]*db.Contest, error)
	GetContest(ctx context.Context, id uuid.UUID) (*db.Contest, error)
	GetContestBySlug(ctx context.Context, slug string) (*db.Contest, error)
	CreateReminder(ctx context.Context, rem *db.Reminder) error
}

// Refresher runs one aggregation pass on demand and reports whether one
// is in flight.
type Refresher interface {
	RefreshNow(ctx context.Context) (*jobs.PassReport, error)
	Running() bool
}

// HealthChecker reports whether the store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ContestView is one contest in the GET /contests response.
type ContestView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	URL       string         `json:"url"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Status    contest.Status `json:"status"`
}

// ContestsResponse groups contests by platform. Platforms lists the groups
// in order of first appearance.
type ContestsResponse struct {
	Count     int                      `json:"count"`
	Platforms []string                 `json:"platforms"`
	Contests  map[string][]ContestView `json:"contests"`
}

// ReminderRequest is the POST /reminders body. One of ContestID or Slug
// identifies the contest.
type ReminderRequest struct {
	UserRef      string    `json:"user_ref" validate:"required,max=128"`
	Recipient    string    `json:"recipient" validate:"required,max=512"`
	ContestID    string    `json:"contest_id" validate:"required_without=Slug"`
	Slug         string    `json:"slug" validate:"required_without=ContestID,max=128"`
	ReminderTime time.Time `json:"reminder_time" validate:"required"`
}

// RefreshResponse summarizes a manual aggregation pass.
type RefreshResponse struct {
	StartedAt      time.Time         `json:"started_at"`
	DurationMS     int64             `json:"duration_ms"`
	Fetched        int               `json:"fetched"`
	Adapters       []AdapterOutcome  `json:"adapters"`
	Upserted       int               `json:"upserted"`
	Inserted       int               `json:"inserted"`
	Failed         int               `json:"failed"`
	Invalid        int               `json:"invalid"`
	Swept          int64             `json:"swept"`
	Started        int64             `json:"started"`
	Error          string            `json:"error,omitempty"`
	FailedContests map[string]string `json:"failed_contests,omitempty"`
}

// AdapterOutcome is one platform's part of a RefreshResponse.
type AdapterOutcome struct {
	Platform string `json:"platform"`
	Count    int    `json:"count"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	store     ContestStore
	refresher Refresher
	health    HealthChecker
	breakers  []*circuitbreaker.CircuitBreaker
	validate  *validator.Validate
	now       func() time.Time
}

// NewHandler creates a new API handler. refresher and health may be nil.
func NewHandler(logger *zap.Logger, store ContestStore, refresher Refresher, health HealthChecker, breakers ...*circuitbreaker.CircuitBreaker) *Handler {
	return &Handler{
		logger:    logger,
		store:     store,
		refresher: refresher,
		health:    health,
		breakers:  breakers,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// ListContests handles GET /contests
func (h *Handler) ListContests(w http.ResponseWriter, r *http.Request) {
	filter, err := parseContestFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid query parameter", err.Error())
		return
	}

	contests, err := h.store.ListContests(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list contests", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list contests", "")
		return
	}

	h.writeJSON(w, http.StatusOK, groupByPlatform(contests))
}

func parseContestFilter(r *http.Request) (db.ContestFilter, error) {
	var f db.ContestFilter
	q := r.URL.Query()

	if raw := q.Get("platform"); raw != "" {
		p, err := contest.ParsePlatform(raw)
		if err != nil {
			return f, err
		}
		f.Platform = p
	}

	if raw := q.Get("status"); raw != "" {
		s, err := contest.ParseStatus(strings.ToLower(raw))
		if err != nil {
			return f, err
		}
		f.Status = s
	}

	switch strings.ToLower(q.Get("sort")) {
	case "", "asc":
	case "desc":
		f.Descending = true
	default:
		return f, errors.New("sort must be asc or desc")
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, MaxLimit)
	}

	return f, nil
}

func groupByPlatform(contests []*db.Contest) ContestsResponse {
	resp := ContestsResponse{
		Count:     len(contests),
		Platforms: []string{},
		Contests:  make(map[string][]ContestView),
	}
	for _, c := range contests {
		p := string(c.Platform)
		if p == "" {
			p = "unknown"
		}
		if _, seen := resp.Contests[p]; !seen {
			resp.Platforms = append(resp.Platforms, p)
		}
		resp.Contests[p] = append(resp.Contests[p], ContestView{
			ID:        c.ID.String(),
			Name:      c.Name,
			Slug:      c.Slug,
			URL:       c.URL,
			StartTime: c.StartTime,
			EndTime:   c.EndTime,
			Status:    c.Status,
		})
	}
	return resp
}

// Refresh handles POST /admin/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "Refresh is not available", "")
		return
	}

	// Detached from the client; RefreshNow applies its own pass timeout.
	report, err := h.refresher.RefreshNow(context.WithoutCancel(r.Context()))
	if errors.Is(err, jobs.ErrPassRunning) {
		h.writeError(w, http.StatusConflict, "pass_running", "An aggregation pass is already running", "")
		return
	}
	if err != nil {
		h.logger.Error("manual refresh failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "refresh_failed", "Refresh failed", "")
		return
	}

	h.logger.Info("manual refresh finished",
		zap.Int("upserted", report.Reconcile.Upserted),
		zap.Duration("duration", report.Duration),
	)

	h.writeJSON(w, http.StatusOK, refreshResponse(report))
}

func refreshResponse(report *jobs.PassReport) RefreshResponse {
	rec := report.Reconcile
	resp := RefreshResponse{
		StartedAt:  report.StartedAt,
		DurationMS: report.Duration.Milliseconds(),
		Fetched:    len(report.Aggregate.Contests),
		Adapters:   make([]AdapterOutcome, 0, len(report.Aggregate.Results)),
		Upserted:   rec.Upserted,
		Inserted:   rec.Inserted,
		Failed:     rec.Failed,
		Invalid:    rec.Invalid,
		Swept:      rec.Swept,
		Started:    rec.Started,
	}
	for _, res := range report.Aggregate.Results {
		out := AdapterOutcome{Platform: string(res.Platform), Count: res.Count}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		resp.Adapters = append(resp.Adapters, out)
	}
	if err := rec.Err(); err != nil {
		resp.Error = err.Error()
	}
	for _, o := range rec.Outcomes {
		if o.Err == nil {
			continue
		}
		if resp.FailedContests == nil {
			resp.FailedContests = make(map[string]string)
		}
		resp.FailedContests[o.Slug] = o.Err.Error()
	}
	return resp
}

// CreateReminder handles POST /reminders
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing or invalid fields", err.Error())
		return
	}

	if _, _, err := worker.ParseRecipient(req.Recipient); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient", err.Error())
		return
	}

	var contestID uuid.UUID
	if req.ContestID != "" {
		id, err := uuid.Parse(req.ContestID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid contest_id", "contest_id must be a valid UUID")
			return
		}
		contestID = id
	}

	c, err := h.lookupContest(ctx, contestID, req.Slug)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Contest not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to look up contest", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to look up contest", "")
		return
	}

	if !c.StartTime.After(h.now()) {
		h.writeError(w, http.StatusUnprocessableEntity, "contest_started", "Contest has already started", "")
		return
	}
	if !req.ReminderTime.Before(c.StartTime) {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_reminder_time",
			"Reminder time must be before the contest starts",
			"contest starts at "+c.StartTime.UTC().Format(time.RFC3339))
		return
	}

	rem := &db.Reminder{
		ID:           uuid.New(),
		UserRef:      req.UserRef,
		Recipient:    req.Recipient,
		ContestID:    c.ID,
		ReminderTime: req.ReminderTime.UTC(),
	}
	if err := h.store.CreateReminder(ctx, rem); err != nil {
		h.logger.Error("failed to create reminder",
			zap.Error(err),
			zap.String("slug", c.Slug),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create reminder", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, rem)
}

// lookupContest prefers the ID when both identifiers are given.
func (h *Handler) lookupContest(ctx context.Context, id uuid.UUID, slug string) (*db.Contest, error) {
	if id != uuid.Nil {
		return h.store.GetContest(ctx, id)
	}
	return h.store.GetContestBySlug(ctx, slug)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Health(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp["database"] = "ok"
		}
	}

	if h.refresher != nil {
		resp["aggregation_running"] = h.refresher.Running()
	}

	if len(h.breakers) > 0 {
		stats := make([]circuitbreaker.Stats, 0, len(h.breakers))
		for _, cb := range h.breakers {
			stats = append(stats, cb.Stats())
		}
		resp["circuit_breakers"] = stats
	}

	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
