package api

import (
	"github.com/starford/mdlinks/internal/engine"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/validate"
)

// AddLinkRequest is the request body for creating a manual link.
type AddLinkRequest = engine.LinkRequest

// GraphResponse is the full graph with derived metadata.
type GraphResponse = models.Graph

// LinksResponse lists the edges touching one file.
type LinksResponse struct {
	Path     string        `json:"path" example:"notes/hello.md" validate:"required"`
	Node     models.Node   `json:"node" validate:"required"`
	Outgoing []models.Edge `json:"outgoing" validate:"required"`
	Incoming []models.Edge `json:"incoming" validate:"required"`
}

// RemoveLinkResponse reports whether an edge was deleted.
type RemoveLinkResponse struct {
	Removed bool `json:"removed" example:"true"`
}

// ValidateResponse is the integrity report.
type ValidateResponse = validate.Report

// RebuildResponse summarises a full rebuild.
type RebuildResponse = engine.RebuildResult
