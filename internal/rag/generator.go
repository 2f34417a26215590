package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// GeneratorOptions configures the text-generation client.
type GeneratorOptions struct {
	// Host is the generation service base URL.
	Host string
	// Model names the model passed to the service.
	Model string
	// Timeout bounds one generation call (default 60s).
	Timeout time.Duration
	Logger  *slog.Logger
}

// Generator synthesizes an answer from a query and its context set. It
// talks to a local HTTP generation service; when none is configured the
// retriever's sources are the whole answer.
type Generator struct {
	opts   GeneratorOptions
	client *http.Client
}

// NewGenerator creates a generation client.
func NewGenerator(opts GeneratorOptions) *Generator {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate synthesizes an answer grounded in the sources.
func (g *Generator) Generate(ctx context.Context, query string, sources []Source) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  g.opts.Model,
		Prompt: buildPrompt(query, sources),
	})
	if err != nil {
		return "", cdocserr.Wrap(cdocserr.TagInternal, "failed to encode generation request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.opts.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", cdocserr.Wrap(cdocserr.TagInternal, "failed to build generation request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ce := cdocserr.FromContext(err); ce != nil {
			return "", ce
		}
		return "", cdocserr.Wrap(cdocserr.TagInternal, "generation request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", cdocserr.Wrap(cdocserr.TagInternal, "failed to read generation response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", cdocserr.Newf(cdocserr.TagInternal,
			"generation service returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", cdocserr.Wrap(cdocserr.TagInternal, "failed to decode generation response", err)
	}
	return strings.TrimSpace(parsed.Response), nil
}

// buildPrompt frames the context set and the question for the model.
func buildPrompt(query string, sources []Source) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the project documentation below.\n\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "[Source %d: %s", i+1, src.RelativePath)
		if src.HeaderPath != "" {
			fmt.Fprintf(&b, " %s", src.HeaderPath)
		}
		b.WriteString("]\n")
		b.WriteString(src.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n")
	return b.String()
}
