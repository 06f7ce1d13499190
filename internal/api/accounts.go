package api

import (
	"net/http"
	"time"

	"github.com/yangwenmai/softpost/internal/model"
)

// ---------------------------------------------------------------------------
// GET /api/accounts
// ---------------------------------------------------------------------------

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []model.SocialAccount{}
	}
	writeOK(w, http.StatusOK, envelope{"accounts": accounts})
}

// ---------------------------------------------------------------------------
// POST /api/accounts
// ---------------------------------------------------------------------------

type createAccountRequest struct {
	Platform          model.Family      `json:"platform"`
	AccountType       model.AccountType `json:"accountType"`
	ExternalAccountID string            `json:"externalAccountId"`
	DisplayName       string            `json:"displayName"`
	AccessToken       string            `json:"accessToken"`
	RefreshToken      string            `json:"refreshToken"`
	TokenExpiresAt    *time.Time        `json:"tokenExpiresAt"`
}

func (req createAccountRequest) validate() error {
	var errs model.ValidationErrors
	if !req.Platform.Valid() {
		errs = append(errs, model.FieldError{Field: "platform", Message: "must be linkedin or substack"})
	}
	switch req.AccountType {
	case model.AccountPersonal, model.AccountOrganization, model.AccountPublication:
	default:
		errs = append(errs, model.FieldError{Field: "accountType", Message: "must be personal, organization or publication"})
	}
	if req.ExternalAccountID == "" {
		errs = append(errs, model.FieldError{Field: "externalAccountId", Message: "external account id is required"})
	}
	if req.AccessToken == "" {
		errs = append(errs, model.FieldError{Field: "accessToken", Message: "access token is required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.ExternalAccountID
	}

	account := model.NewSocialAccount("", req.Platform, req.AccountType, req.ExternalAccountID, req.DisplayName, req.AccessToken)
	account.RefreshToken = req.RefreshToken
	account.TokenExpiresAt = req.TokenExpiresAt
	if err := s.store.CreateAccount(r.Context(), &account); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, envelope{"account": account})
}

// ---------------------------------------------------------------------------
// DELETE /api/accounts/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteAccount(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"id": id, "deleted": true})
}

// ---------------------------------------------------------------------------
// POST /api/accounts/{id}/publish
// ---------------------------------------------------------------------------

type publishNowRequest struct {
	ArtifactID string `json:"artifactId"`
}

func (s *Server) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	var req publishNowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ArtifactID == "" {
		s.writeFailure(w, r, model.Invalid("artifactId", "artifact id is required"))
		return
	}

	res, err := s.scheduler.PublishDirect(r.Context(), req.ArtifactID, r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, envelope{"success": false, "error": res.Error, "result": res})
		return
	}
	writeOK(w, http.StatusOK, envelope{"result": res})
}
