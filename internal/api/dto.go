package api

import (
	"github.com/starford/nbtrust/internal/notary"
	"github.com/starford/nbtrust/internal/trustservice"
)

// NotebookRequest addresses a notebook by workspace path or inline document.
type NotebookRequest = trustservice.Input

// SignRequest is the request body for POST /api/sign.
type SignRequest struct {
	trustservice.Input
	// IfCellsTrusted signs only when every code cell with output is already
	// marked trusted.
	IfCellsTrusted bool `json:"if_cells_trusted,omitempty"`
}

// CheckRequest is the request body for POST /api/check.
type CheckRequest struct {
	trustservice.Input
	// Mark returns the notebook with code cells stamped by the outcome.
	Mark bool `json:"mark,omitempty"`
}

// TrustResponse is returned by sign, check, unsign and cells/mark.
type TrustResponse = trustservice.Outcome

// CellsResponse is returned by POST /api/cells/check.
type CellsResponse struct {
	Trusted bool `json:"trusted" example:"true"`
}

// CullResponse is returned by POST /api/cull.
type CullResponse struct {
	Removed int `json:"removed" example:"12"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse = trustservice.Status

// FileStatus is one row of a StatusResponse.
type FileStatus = notary.FileStatus
