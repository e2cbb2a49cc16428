package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/codereview/internal/models"
	"github.com/joescharf/codereview/internal/review"
	"github.com/joescharf/codereview/internal/source"
	"github.com/joescharf/codereview/internal/store"
)

// Reviewer runs reviews. *review.Service implements it.
type Reviewer interface {
	Review(ctx context.Context, subject models.Subject, userID string) (*review.Outcome, error)
}

// Server exposes the review pipeline as MCP tools.
type Server struct {
	reviews Reviewer
	store   store.Store
	userID  string
	version string
}

// NewServer creates the MCP server wrapper. Every tool call acts as userID.
func NewServer(r Reviewer, s store.Store, userID, version string) *Server {
	return &Server{reviews: r, store: s, userID: userID, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("codereview", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.reviewCodeTool())
	srv.AddTool(s.reviewRepoFileTool())
	srv.AddTool(s.listReviewsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// review_code
func (s *Server) reviewCodeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_code",
		mcp.WithDescription("Review a snippet of source code. Returns a JSON review with issues (line, severity, category, explanation, suggested fix), suggestions and an improved version."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Source code to review")),
		mcp.WithString("language", mcp.Description("Programming language; detected when omitted")),
	)
	return tool, s.handleReviewCode
}

func (s *Server) handleReviewCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("code is required"), nil
	}
	language := request.GetString("language", "")
	return s.review(ctx, models.InlineCode{Code: code, Language: language})
}

// review_repo_file
func (s *Server) reviewRepoFileTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_repo_file",
		mcp.WithDescription("Review the latest revision of a file in a GitHub repository. Pass either url, or owner, repo and path. Results are cached per revision."),
		mcp.WithString("url", mcp.Description("GitHub file URL, e.g. https://github.com/owner/repo/blob/main/path/to/file.go")),
		mcp.WithString("owner", mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Description("Repository name")),
		mcp.WithString("path", mcp.Description("File path inside the repository")),
	)
	return tool, s.handleReviewRepoFile
}

func (s *Server) handleReviewRepoFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file := models.RepositoryFile{
		Owner: request.GetString("owner", ""),
		Repo:  request.GetString("repo", ""),
		Path:  request.GetString("path", ""),
	}
	if u := request.GetString("url", ""); u != "" {
		parsed, _, err := source.ParseGitHubURL(u)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		file = parsed
	}
	if file.Owner == "" || file.Repo == "" || file.Path == "" {
		return mcp.NewToolResultError("provide url, or owner, repo and path"), nil
	}
	return s.review(ctx, file)
}

func (s *Server) review(ctx context.Context, subject models.Subject) (*mcp.CallToolResult, error) {
	out, err := s.reviews.Review(ctx, subject, s.userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review failed (%s): %v", review.KindOf(err), err)), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal review: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("list_reviews",
		mcp.WithDescription("List recent reviews from history, newest first. Returns id, subject, language, issue counts and whether the review was served from cache."),
		mcp.WithString("kind", mcp.Description("Filter by subject kind: inline, image or repository_file")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of reviews (default 20)")),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.store.ListReviews(ctx, store.ReviewListFilter{
		UserID: s.userID,
		Kind:   models.SubjectKind(request.GetString("kind", "")),
		Limit:  request.GetInt("limit", 20),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}

	type reviewOut struct {
		ID        string            `json:"id"`
		Subject   models.SubjectRef `json:"subject"`
		Language  string            `json:"language"`
		Summary   models.Summary    `json:"summary"`
		FromCache bool              `json:"from_cache"`
		CreatedAt string            `json:"created_at"`
	}

	out := make([]reviewOut, len(records))
	for i, r := range records {
		out[i] = reviewOut{
			ID:        r.ID,
			Subject:   r.Result.Subject,
			Language:  r.Result.Language,
			Summary:   r.Result.Summary,
			FromCache: r.FromCache,
			CreatedAt: r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal reviews: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
