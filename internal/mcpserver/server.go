// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes linkfix tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/linkfix/internal/apperr"
	"github.com/starford/linkfix/internal/linkservice"
)

const contractURI = "linkfix://link-format"

// Server wraps the MCP server with linkfix tools.
type Server struct {
	mcp *server.MCPServer
	svc *linkservice.Service
}

// New creates a new MCP server with all linkfix tools registered.
func New(svc *linkservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"linkfix",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("transform_links",
		mcp.WithDescription(fmt.Sprintf("Rewrite [[wikilinks]] in the given text into portable [target](target%s) links. Nothing is written to disk.", svc.LinkSuffix())),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown text to rewrite")),
	), s.transformLinks)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the documents under the tree root that the rewrite applies to."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("rewrite_document",
		mcp.WithDescription("Rewrite the wikilinks of one document in place. The file is written only if it changes."),
		mcp.WithString("path", mcp.Required(), mcp.Description(fmt.Sprintf("Path relative to the tree root, ending in %s", svc.Extension()))),
		mcp.WithBoolean("dry_run", mcp.Description("Report the change without writing it")),
	), s.rewriteDocument)

	s.mcp.AddTool(mcp.NewTool("last_rewrite",
		mcp.WithDescription("Show the most recent recorded write of one document: run, link count and checksums."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the tree root")),
	), s.lastRewrite)

	s.mcp.AddTool(mcp.NewTool("rewrite_tree",
		mcp.WithDescription("Rewrite the wikilinks of every document under the tree root and return the run report."),
		mcp.WithBoolean("dry_run", mcp.Description("Report changes without writing them")),
	), s.rewriteTree)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent rewrite runs recorded in the ledger, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.listRuns)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Link Format",
			mcp.WithResourceDescription("How wikilinks are rewritten and which files are touched."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) transformLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.svc.Transform(content)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, errs := s.svc.ListDocuments(ctx)
	var b strings.Builder
	b.WriteString(strings.Join(paths, "\n"))
	for _, e := range errs {
		fmt.Fprintf(&b, "\nerror: %v", e)
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) rewriteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.RewriteDocument(ctx, path, req.GetBool("dry_run", s.svc.DefaultDryRun()))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) rewriteTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, runID, err := s.svc.RewriteTree(ctx, req.GetBool("dry_run", s.svc.DefaultDryRun()))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"run_id": runID, "report": report})
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.Runs(req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	return jsonResult(runs)
}

func (s *Server) lastRewrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.LastWritten(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultText("no recorded write of " + path), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     LinkFormatContract(s.svc.Extension(), s.svc.LinkSuffix()),
		},
	}, nil
}
