// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes notebook trust tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nbtrust/internal/apperr"
	"github.com/starford/nbtrust/internal/trustservice"
)

const trustModelURI = "nbtrust://trust-model"

// Server wraps the MCP server with trust tools.
type Server struct {
	mcp *server.MCPServer
	svc *trustservice.Service
}

// New creates a new MCP server with all trust tools registered.
func New(svc *trustservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"nbtrust",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("check_notebook_trust",
		mcp.WithDescription("Report whether a notebook is trusted, i.e. whether its output may be rendered."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the notebook (e.g. folder/analysis.ipynb)")),
	), s.checkNotebookTrust)

	s.mcp.AddTool(mcp.NewTool("sign_notebook",
		mcp.WithDescription("Record a notebook as trusted. Only sign notebooks whose output "+
			"the user has reviewed. Read the trust model first via the get_trust_model tool "+
			"or the "+trustModelURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the notebook")),
	), s.signNotebook)

	s.mcp.AddTool(mcp.NewTool("unsign_notebook",
		mcp.WithDescription("Remove a notebook's signature so that it is no longer trusted."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the notebook")),
	), s.unsignNotebook)

	s.mcp.AddTool(mcp.NewTool("trust_status",
		mcp.WithDescription("List every notebook in the workspace or a folder with its trust state."),
		mcp.WithString("folder", mcp.Description("Optional folder to audit (empty for all)")),
	), s.trustStatus)

	s.mcp.AddTool(mcp.NewTool("get_trust_model",
		mcp.WithDescription("Returns the notebook trust model: what is signed and what each tool changes."),
	), s.getTrustModel)

	s.mcp.AddResource(
		mcp.NewResource(trustModelURI, "Notebook Trust Model",
			mcp.WithResourceDescription("What notebook trust means and how signatures are computed."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTrustModelResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func toolError(path string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) checkNotebookTrust(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Check(ctx, trustservice.Input{Path: path}, false)
	if err != nil {
		return toolError(path, err), nil
	}
	if out.Trusted {
		return mcp.NewToolResultText(fmt.Sprintf("trusted: %s", path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("untrusted: %s", path)), nil
}

func (s *Server) signNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Sign(ctx, trustservice.Input{Path: path})
	if err != nil {
		return toolError(path, err), nil
	}
	if out.AlreadySigned {
		return mcp.NewToolResultText(fmt.Sprintf("already signed: %s", path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("signed: %s", path)), nil
}

func (s *Server) unsignNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Unsign(ctx, trustservice.Input{Path: path}); err != nil {
		return toolError(path, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("unsigned: %s", path)), nil
}

func (s *Server) trustStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = f
	}
	st, err := s.svc.Status(ctx, strings.TrimPrefix(folder, "/"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(st, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getTrustModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TrustModel), nil
}

func (s *Server) readTrustModelResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      trustModelURI,
			MIMEType: "text/markdown",
			Text:     TrustModel,
		},
	}, nil
}
