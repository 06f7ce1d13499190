package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/scheduler"
)

// ---------------------------------------------------------------------------
// GET /api/scheduled-posts
// ---------------------------------------------------------------------------

func parseTimeParam(r *http.Request, name string, errs *model.ValidationErrors) *time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		*errs = append(*errs, model.FieldError{Field: name, Message: "must be an RFC 3339 timestamp"})
		return nil
	}
	return &t
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := model.ScheduledPostFilter{
		AccountID:  q.Get("accountId"),
		ArtifactID: q.Get("artifactId"),
		Limit:      limit,
		Offset:     offset,
	}
	var errs model.ValidationErrors
	for _, st := range splitComma(q.Get("status")) {
		status := model.PostStatus(st)
		if !status.Valid() {
			errs = append(errs, model.FieldError{Field: "status", Message: "unknown status " + st})
			continue
		}
		filter.Status = append(filter.Status, status)
	}
	filter.From = parseTimeParam(r, "from", &errs)
	filter.To = parseTimeParam(r, "to", &errs)
	if len(errs) > 0 {
		s.writeFailure(w, r, errs)
		return
	}

	posts, err := s.store.ListScheduledPosts(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	total, err := s.store.CountScheduledPosts(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if posts == nil {
		posts = []model.ScheduledPost{}
	}
	writeOK(w, http.StatusOK, envelope{"posts": posts, "total": total})
}

// ---------------------------------------------------------------------------
// POST /api/scheduled-posts
// ---------------------------------------------------------------------------

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var in scheduler.ScheduleInput
	if !decodeBody(w, r, &in) {
		return
	}
	post, err := s.service.Schedule(r.Context(), in)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, envelope{"post": post})
}

// ---------------------------------------------------------------------------
// GET /api/scheduled-posts/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.store.GetScheduledPost(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	history, err := s.store.ListHistory(r.Context(), post.ID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if history == nil {
		history = []model.PostHistory{}
	}
	writeOK(w, http.StatusOK, envelope{"post": post, "history": history})
}

// ---------------------------------------------------------------------------
// PATCH /api/scheduled-posts/{id}
// ---------------------------------------------------------------------------

type updatePostRequest struct {
	ScheduledFor *time.Time `json:"scheduledFor"`
	Timezone     string     `json:"timezone"`
	Notes        *string    `json:"notes"`
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updatePostRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ScheduledFor == nil && req.Notes == nil {
		s.writeFailure(w, r, model.Invalid("scheduledFor", "nothing to update: set scheduledFor or notes"))
		return
	}

	var post *model.ScheduledPost
	var err error
	if req.ScheduledFor != nil {
		if post, err = s.service.Reschedule(r.Context(), id, *req.ScheduledFor, req.Timezone); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}
	if req.Notes != nil {
		if post, err = s.service.UpdateNotes(r.Context(), id, *req.Notes); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}
	writeOK(w, http.StatusOK, envelope{"post": post})
}

// ---------------------------------------------------------------------------
// DELETE /api/scheduled-posts/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.service.Delete(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"id": id, "result": res})
}

// ---------------------------------------------------------------------------
// POST /api/scheduled-posts/{id}/{cancel,retry,execute}
// ---------------------------------------------------------------------------

func (s *Server) handleCancelPost(w http.ResponseWriter, r *http.Request) {
	s.postAction(w, r, s.service.Cancel)
}

func (s *Server) handleRetryPost(w http.ResponseWriter, r *http.Request) {
	s.postAction(w, r, s.service.Retry)
}

func (s *Server) handleExecutePost(w http.ResponseWriter, r *http.Request) {
	s.postAction(w, r, s.scheduler.ExecutePostNow)
}

func (s *Server) postAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) (*model.ScheduledPost, error)) {
	post, err := action(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"post": post})
}

// ---------------------------------------------------------------------------
// GET /api/calendar
// ---------------------------------------------------------------------------

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())
	q := r.URL.Query()
	var errs model.ValidationErrors
	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1970 || n > 9999 {
			errs = append(errs, model.FieldError{Field: "year", Message: "must be a four-digit year"})
		} else {
			year = n
		}
	}
	if v := q.Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			errs = append(errs, model.FieldError{Field: "month", Message: "must be between 1 and 12"})
		} else {
			month = n
		}
	}
	if len(errs) > 0 {
		s.writeFailure(w, r, errs)
		return
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	posts, err := s.store.ListScheduledPosts(r.Context(), model.ScheduledPostFilter{From: &from, To: &to})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	days := map[string][]model.ScheduledPost{}
	for _, p := range posts {
		day := p.ScheduledFor.UTC().Format(time.DateOnly)
		days[day] = append(days[day], p)
	}
	writeOK(w, http.StatusOK, envelope{"year": year, "month": month, "days": days, "total": len(posts)})
}

// ---------------------------------------------------------------------------
// GET /api/stats
// ---------------------------------------------------------------------------

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	artifacts, err := s.store.CountArtifacts(r.Context(), model.ArtifactFilter{})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"posts": counts, "artifacts": artifacts})
}
