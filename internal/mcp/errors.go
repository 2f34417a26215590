// Package mcp exposes the document server's tools over the Model
// Context Protocol on stdio.
package mcp

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// ErrorReply is the wire shape of a failed tool call.
type ErrorReply struct {
	Error   bool              `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

// replyFor maps a domain error to its wire shape. The tag is the
// stable code; suggestions fold into the message.
func replyFor(err error) ErrorReply {
	reply := ErrorReply{
		Error:   true,
		Code:    string(cdocserr.TagOf(err)),
		Message: err.Error(),
	}

	var de *cdocserr.Error
	if errors.As(err, &de) {
		reply.Message = de.Message
		if de.Suggestion != "" {
			reply.Message += " " + de.Suggestion
		}
		reply.Details = de.Details
	} else if ce := cdocserr.FromContext(err); ce != nil {
		reply.Message = ce.Message
	}
	return reply
}

// errorResult wraps a domain error into a tool result carrying the
// documented {error, code, message, details} object, so clients see
// the structured reply rather than a bare protocol error.
func errorResult(err error) *mcp.CallToolResult {
	reply := replyFor(err)
	data, _ := json.Marshal(reply)
	return &mcp.CallToolResult{
		IsError:           true,
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: reply,
	}
}
