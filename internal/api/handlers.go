package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/yangwenmai/softpost/internal/engine"
	"github.com/yangwenmai/softpost/internal/model"
)

// ---------------------------------------------------------------------------
// POST /api/generate
// ---------------------------------------------------------------------------

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req model.GenerationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	batch, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	artifacts := make([]*model.ContentArtifact, 0, len(batch.Results))
	pairErrors := batch.Errors
	session := &model.GenerationSession{
		SeedIdea:     req.SeedIdea,
		MonthlyTheme: req.MonthlyTheme,
		Segments:     req.Segments,
		Platforms:    req.Platforms,
		ArtifactIDs:  []string{},
		Errors:       []string{},
	}
	for _, pr := range batch.Results {
		a := pr.Outcome.Artifact
		if err := s.store.SaveArtifact(r.Context(), a); err != nil {
			s.logger.Error("save artifact", "platform", pr.Platform, "segment", pr.Segment, "error", err)
			pairErrors = append(pairErrors, engine.PairError{Segment: pr.Segment, Platform: pr.Platform, Error: "failed to save artifact"})
			continue
		}
		artifacts = append(artifacts, a)
		session.ArtifactIDs = append(session.ArtifactIDs, a.ID)
	}
	for _, pe := range pairErrors {
		session.Errors = append(session.Errors, fmt.Sprintf("%s/%s: %s", pe.Segment, pe.Platform, pe.Error))
	}
	if err := s.store.SaveSession(r.Context(), session); err != nil {
		s.logger.Error("save generation session", "error", err)
	}

	writeOK(w, http.StatusOK, envelope{
		"artifacts": artifacts,
		"errors":    pairErrors,
		"warnings":  batch.Warnings,
		"sessionId": session.ID,
	})
}

// ---------------------------------------------------------------------------
// GET /api/artifacts
// ---------------------------------------------------------------------------

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := model.ArtifactFilter{Query: q.Get("q"), Limit: limit, Offset: offset}
	for _, p := range splitComma(q.Get("platform")) {
		filter.Platform = append(filter.Platform, model.Platform(p))
	}
	for _, sg := range splitComma(q.Get("segment")) {
		filter.Segment = append(filter.Segment, model.Segment(sg))
	}

	artifacts, err := s.store.ListArtifacts(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	total, err := s.store.CountArtifacts(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if artifacts == nil {
		artifacts = []model.ContentArtifact{}
	}
	writeOK(w, http.StatusOK, envelope{"artifacts": artifacts, "total": total})
}

// ---------------------------------------------------------------------------
// GET /api/artifacts/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"artifact": a})
}

// ---------------------------------------------------------------------------
// DELETE /api/artifacts/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteArtifact(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"id": id, "deleted": true})
}

// ---------------------------------------------------------------------------
// POST /api/artifacts/{id}/validate
// ---------------------------------------------------------------------------

func (s *Server) handleValidateArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	res := s.generator.Revalidate(a)
	if err := s.store.UpdateArtifact(r.Context(), a); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"artifact": a, "validation": res})
}

// ---------------------------------------------------------------------------
// POST /api/artifacts/{id}/rewrite
// ---------------------------------------------------------------------------

type rewriteRequest struct {
	// Errors to fix; the artifact's cached QA errors when empty.
	Errors []string `json:"errors"`
}

func (s *Server) handleRewriteArtifact(w http.ResponseWriter, r *http.Request) {
	var req rewriteRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	a, err := s.store.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if len(req.Errors) == 0 && a.Valid() {
		s.writeFailure(w, r, model.Invalid("errors", "artifact has no validation errors to fix"))
		return
	}

	out, err := s.generator.RewriteArtifact(r.Context(), a, req.Errors)
	if err != nil {
		s.logger.Warn("rewrite failed", "artifact_id", a.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.UpdateArtifact(r.Context(), out.Artifact); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"artifact": out.Artifact, "validation": out.Validation})
}

// ---------------------------------------------------------------------------
// GET /api/sessions
// ---------------------------------------------------------------------------

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			s.writeFailure(w, r, model.Invalid("limit", fmt.Sprintf("must be between 1 and %d", maxPageSize)))
			return
		}
		limit = n
	}
	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.GenerationSession{}
	}
	writeOK(w, http.StatusOK, envelope{"sessions": sessions})
}
