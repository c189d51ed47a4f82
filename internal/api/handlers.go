package api

import (
	"encoding/json"
	"net/http"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/starford/nbtrust/internal/trustservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *trustservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *trustservice.Service) *Handler {
	return &Handler{svc: svc}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// Sign handles POST /api/sign.
//
//	@Summary		Record a notebook as trusted
//	@Tags			trust
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignRequest	true	"Workspace path or inline notebook"
//	@Success		200		{object}	TrustResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sign [post]
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sign := h.svc.Sign
	if req.IfCellsTrusted {
		sign = h.svc.SignIfCellsTrusted
	}
	out, err := sign(r.Context(), req.Input)
	if err != nil {
		writeError(w, slogcontext.FromCtx(r.Context()), "sign", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Check handles POST /api/check.
//
//	@Summary		Check whether a notebook is trusted
//	@Tags			trust
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CheckRequest	true	"Workspace path or inline notebook"
//	@Success		200		{object}	TrustResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/check [post]
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.svc.Check(r.Context(), req.Input, req.Mark)
	if err != nil {
		writeError(w, slogcontext.FromCtx(r.Context()), "check", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Unsign handles POST /api/unsign.
//
//	@Summary		Remove a notebook's signature
//	@Tags			trust
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NotebookRequest	true	"Workspace path or inline notebook"
//	@Success		200		{object}	TrustResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/unsign [post]
func (h *Handler) Unsign(w http.ResponseWriter, r *http.Request) {
	var req NotebookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.svc.Unsign(r.Context(), req)
	if err != nil {
		writeError(w, slogcontext.FromCtx(r.Context()), "unsign", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Mark handles POST /api/cells/mark.
//
//	@Summary		Stamp code cells with the notebook's trust verdict
//	@Description	A notebook addressed by path is rewritten in the workspace.
//	@Tags			trust
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NotebookRequest	true	"Workspace path or inline notebook"
//	@Success		200		{object}	TrustResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cells/mark [post]
func (h *Handler) Mark(w http.ResponseWriter, r *http.Request) {
	var req NotebookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.svc.Mark(r.Context(), req)
	if err != nil {
		writeError(w, slogcontext.FromCtx(r.Context()), "mark", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CheckCells handles POST /api/cells/check.
//
//	@Summary		Check that all code cell output is marked trusted
//	@Tags			trust
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NotebookRequest	true	"Workspace path or inline notebook"
//	@Success		200		{object}	CellsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cells/check [post]
func (h *Handler) CheckCells(w http.ResponseWriter, r *http.Request) {
	var req NotebookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ok, err := h.svc.CheckCells(r.Context(), req)
	if err != nil {
		writeError(w, slogcontext.FromCtx(r.Context()), "check cells", err)
		return
	}
	writeJSON(w, http.StatusOK, CellsResponse{Trusted: ok})
}

// Cull handles POST /api/cull.
//
//	@Summary		Evict least-recently-used signatures beyond the cache size
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	CullResponse
//	@Security		BearerAuth
//	@Router			/cull [post]
func (h *Handler) Cull(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.Cull(r.Context())
	if err != nil {
		writeError(w, slogcontext.FromCtx(r.Context()), "cull", err)
		return
	}
	writeJSON(w, http.StatusOK, CullResponse{Removed: removed})
}

// Status handles GET /api/status.
//
//	@Summary		Trust state of every notebook in the workspace
//	@Tags			trust
//	@Produce		json
//	@Param			dir	query		string	false	"Sub-directory to audit"
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), r.URL.Query().Get("dir"))
	if err != nil {
		writeError(w, slogcontext.FromCtx(r.Context()), "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
