package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/auth"
	"github.com/0xshugo/suno-api-mcp/internal/config"
	"github.com/0xshugo/suno-api-mcp/internal/output"
	"github.com/0xshugo/suno-api-mcp/internal/suno"
)

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	targets := []string{output.TargetLibrary, output.TargetCh1, output.TargetCh2, output.TargetGDrive}

	generateOpts := []mcp.ToolOption{
		mcp.WithDescription("Generate a track and save it as WAV. Returns the saved file per clip, with a Google Drive link when output_dir is gdrive."),
		mcp.WithString("tags",
			mcp.Description("Style/genre description, e.g. \"Liquid Drum and Bass, atmospheric, 174bpm\" (max 200 characters)"),
			mcp.DefaultString(suno.DefaultTags),
		),
		mcp.WithString("title",
			mcp.Description("Track title. Generated when empty."),
		),
		mcp.WithString("prompt",
			mcp.Description("Lyrics. Leave empty for instrumental tracks."),
		),
		mcp.WithBoolean("instrumental",
			mcp.Description("Generate without vocals"),
			mcp.DefaultBool(true),
		),
		mcp.WithString("output_dir",
			mcp.Description("ch1 and ch2 are broadcast channels, library is the general library, gdrive saves to library and uploads to Google Drive"),
			mcp.Enum(targets...),
			mcp.DefaultString(output.DefaultTarget),
		),
		mcp.WithString("model",
			mcp.Description("Model version"),
			mcp.Enum(suno.Models...),
			mcp.DefaultString(suno.DefaultModel),
		),
	}
	s.mcpServer.AddTool(mcp.NewTool("generate_track", generateOpts...), s.handleGenerate)
	// Kept for clients configured against the original tool name.
	s.mcpServer.AddTool(mcp.NewTool("generate_liquid_dnb", generateOpts...), s.handleGenerate)

	s.mcpServer.AddTool(mcp.NewTool("get_credits",
		mcp.WithDescription("Check remaining credits"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleCredits)

	s.mcpServer.AddTool(mcp.NewTool("list_tracks",
		mcp.WithDescription("List saved WAV tracks in an output directory"),
		mcp.WithString("output_dir",
			mcp.Description("Output directory to list"),
			mcp.Enum(targets...),
			mcp.DefaultString(output.DefaultTarget),
		),
		mcp.WithBoolean("remote",
			mcp.Description("For gdrive, list the Google Drive folder instead of the local copy"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListTracks)

	s.mcpServer.AddTool(mcp.NewTool("delete_track",
		mcp.WithDescription("Delete a local track. Drive copies are not touched."),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Exact file name as shown by list_tracks"),
		),
		mcp.WithString("output_dir",
			mcp.Description("Output directory containing the file"),
			mcp.Enum(targets...),
			mcp.DefaultString(output.DefaultTarget),
		),
		mcp.WithDestructiveHintAnnotation(true),
	), s.handleDeleteTrack)

	s.mcpServer.AddTool(mcp.NewTool("auth_status",
		mcp.WithDescription("Report authentication health and access token expiry without refreshing"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleAuthStatus)

	s.mcpServer.AddTool(mcp.NewTool("auth_validate",
		mcp.WithDescription("Check a candidate refresh token against the identity provider without installing it"),
		mcp.WithString("refresh_token",
			mcp.Required(),
			mcp.Description("Candidate __client token or full cookie string"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleAuthValidate)

	s.mcpServer.AddTool(mcp.NewTool("auth_refresh",
		mcp.WithDescription("Force an access token refresh"),
	), s.handleAuthRefresh)
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := s.deps.Files.Resolve(request.GetString("output_dir", output.DefaultTarget))
	if err != nil {
		return s.failure(err), nil
	}

	params := suno.Params{
		Tags:         request.GetString("tags", suno.DefaultTags),
		Title:        request.GetString("title", ""),
		Prompt:       request.GetString("prompt", ""),
		Instrumental: request.GetBool("instrumental", true),
		Model:        request.GetString("model", ""),
	}

	job, results, err := s.deps.Generator.Run(ctx, params, target)
	if err != nil {
		if job == nil {
			return s.failure(err), nil
		}
		return s.failureWithData(err.Error(), err, job), nil
	}

	var (
		lines      []string
		saved      int
		firstErr   error
		partialErr error
	)
	for _, r := range results {
		if r.Err != nil {
			lines = append(lines, fmt.Sprintf("Failed (%s): %v", r.ClipID, r.Err))
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		saved++
		line := fmt.Sprintf("Saved: %s -> %s\n  Preview: %s", r.Write.Name, target.Name, r.PreviewURL)
		switch {
		case r.Write.Remote != nil:
			line += "\n  Google Drive: " + r.Write.Remote.URL
		case r.Write.Partial():
			line += fmt.Sprintf("\n  GDrive upload failed: %v", r.Write.RemoteErr)
			if partialErr == nil {
				partialErr = r.Write.RemoteErr
			}
		}
		lines = append(lines, line)
	}

	message := strings.Join(lines, "\n")
	data := map[string]any{"job": job, "tracks": results}
	switch {
	case saved == 0 && firstErr != nil:
		return s.failureWithData(message, firstErr, data), nil
	case saved == 0:
		return s.failure(apperr.Provider("generate", "", "no tracks completed")), nil
	case partialErr != nil:
		return s.partial(message, data, partialErr), nil
	case firstErr != nil:
		return s.partial(message, data, firstErr), nil
	}
	return s.success(message, data), nil
}

func (s *Server) handleCredits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.deps.Credits.Credits(ctx)
	if err != nil {
		return s.failure(err), nil
	}
	period := c.Period
	if period == "" {
		period = "unknown"
	}
	msg := fmt.Sprintf("Credits: %d remaining (%s)\nMonthly: %d/%d used", c.TotalCreditsLeft, period, c.MonthlyUsage, c.MonthlyLimit)
	return s.success(msg, c), nil
}

func (s *Server) handleListTracks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := s.deps.Files.Resolve(request.GetString("output_dir", output.DefaultTarget))
	if err != nil {
		return s.failure(err), nil
	}

	if target.Remote && request.GetBool("remote", false) {
		files, err := s.deps.Files.ListRemote(ctx)
		if err != nil {
			return s.failure(err), nil
		}
		if len(files) == 0 {
			return s.success(fmt.Sprintf("[%s] No files in Google Drive.", target.Name), files), nil
		}
		lines := []string{fmt.Sprintf("[%s] %d files in Google Drive:", target.Name, len(files))}
		for _, f := range files {
			lines = append(lines, fmt.Sprintf("  %s (%s) %s", f.Name, megabytes(f.Size), f.ID))
		}
		return s.success(strings.Join(lines, "\n"), files), nil
	}

	files, err := s.deps.Files.List(target)
	if err != nil {
		return s.failure(err), nil
	}
	if len(files) == 0 {
		return s.success(fmt.Sprintf("[%s] No tracks found.", target.Name), []output.FileInfo{}), nil
	}
	lines := []string{fmt.Sprintf("[%s] %d tracks:", target.Name, len(files))}
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("  %s (%s)", f.Name, megabytes(f.Size)))
	}
	return s.success(strings.Join(lines, "\n"), files), nil
}

func (s *Server) handleDeleteTrack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return s.failure(apperr.Validation("delete", "%v", err)), nil
	}
	target, err := s.deps.Files.Resolve(request.GetString("output_dir", output.DefaultTarget))
	if err != nil {
		return s.failure(err), nil
	}
	if err := s.deps.Files.Delete(target, filename); err != nil {
		return s.failure(err), nil
	}
	s.logger.Info("Deleted %s from %s", filename, target.Name)
	return s.success(fmt.Sprintf("Deleted: %s from %s.", filename, target.Name), nil), nil
}

func (s *Server) handleAuthStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.deps.Auth.Status()
	return s.success(FormatStatus(st, time.Now()), st), nil
}

func (s *Server) handleAuthValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := request.RequireString("refresh_token")
	if err != nil {
		return s.failure(apperr.Validation("validate", "%v", err)), nil
	}
	candidate := auth.RefreshCredential{Token: config.ExtractClientToken(token), DeviceID: s.deps.DeviceID}
	if err := s.deps.Auth.Validate(ctx, candidate); err != nil {
		return s.failureWithData("candidate refresh token rejected: "+err.Error(), err, nil), nil
	}
	return s.success("Refresh token is valid. Set SUNO_REFRESH_TOKEN and restart to use it.", nil), nil
}

func (s *Server) handleAuthRefresh(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ac, err := s.deps.Auth.Refresh(ctx)
	if err != nil {
		return s.failureWithData(err.Error(), err, s.deps.Auth.Status()), nil
	}
	return s.success(fmt.Sprintf("Access token refreshed, expires at %s.", ac.ExpiresAt.UTC().Format(time.RFC3339)), s.deps.Auth.Status()), nil
}

// FormatStatus renders an auth status for humans.
func FormatStatus(st auth.Status, now time.Time) string {
	h := st.Health
	lines := []string{
		fmt.Sprintf("Auth: %s (%d consecutive failures)", h.State, h.ConsecutiveFailures),
		"Mode: " + st.Mode,
	}
	if st.AccessExpiresAt != nil {
		remaining := st.AccessExpiresAt.Sub(now).Round(time.Second)
		if remaining > 0 {
			lines = append(lines, fmt.Sprintf("Access token expires: %s (in %s)", st.AccessExpiresAt.UTC().Format(time.RFC3339), remaining))
		} else {
			lines = append(lines, fmt.Sprintf("Access token expired: %s", st.AccessExpiresAt.UTC().Format(time.RFC3339)))
		}
	} else {
		lines = append(lines, "Access token: none")
	}
	if h.LastClass != "" {
		lines = append(lines, fmt.Sprintf("Last failure: %s: %s", h.LastClass, h.LastError))
	}
	if !h.LastTransitionAt.IsZero() {
		lines = append(lines, "Since: "+h.LastTransitionAt.UTC().Format(time.RFC3339))
	}
	return strings.Join(lines, "\n")
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
