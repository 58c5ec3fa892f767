package server

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/config"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CodePartialSuccess marks a result whose primary effect succeeded while a
// secondary one, such as a Drive upload, failed.
const CodePartialSuccess = "partial_success"

// Meta carries machine-readable detail for agents.
type Meta struct {
	Code           string `json:"code"`
	Classification string `json:"classification,omitempty"`
}

// Result is the envelope every tool returns.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Meta    *Meta  `json:"meta,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// metaFor classifies err. Every error carries a classification: the failure
// class when one is known, otherwise the error kind.
func metaFor(err error) *Meta {
	m := &Meta{Code: apperr.CodeOf(err)}
	if class, ok := apperr.ClassOf(err); ok {
		m.Classification = string(class)
	} else {
		m.Classification = string(apperr.KindOf(err))
	}
	return m
}

func (s *Server) success(message string, data any) *mcp.CallToolResult {
	return s.render(Result{Status: StatusSuccess, Message: message, Data: data})
}

func (s *Server) partial(message string, data any, err error) *mcp.CallToolResult {
	meta := metaFor(err)
	meta.Code = CodePartialSuccess
	return s.render(Result{Status: StatusSuccess, Message: message, Meta: meta, Data: data})
}

func (s *Server) failure(err error) *mcp.CallToolResult {
	return s.failureWithData(err.Error(), err, nil)
}

func (s *Server) failureWithData(message string, err error, data any) *mcp.CallToolResult {
	s.logger.Debug("tool error: %v", err)
	return s.render(Result{Status: StatusError, Message: message, Meta: metaFor(err), Data: data})
}

// render formats r as plain text or JSON. Error results are flagged so the
// client sees isError.
func (s *Server) render(r Result) *mcp.CallToolResult {
	var text string
	if s.opts.ResponseFormat == config.FormatJSON {
		data, err := json.Marshal(r)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal result: " + err.Error())
		}
		text = string(data)
	} else {
		text = renderText(r)
	}

	if r.Status == StatusError {
		return mcp.NewToolResultError(text)
	}
	return mcp.NewToolResultText(text)
}

func renderText(r Result) string {
	var b strings.Builder
	if r.Status == StatusError {
		b.WriteString("Error: ")
	}
	b.WriteString(r.Message)
	if r.Meta != nil {
		b.WriteString("\n[code: ")
		b.WriteString(r.Meta.Code)
		if r.Meta.Classification != "" {
			b.WriteString(", classification: ")
			b.WriteString(r.Meta.Classification)
		}
		b.WriteString("]")
	}
	return b.String()
}
