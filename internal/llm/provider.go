// Package llm wraps the external model providers behind a single Provider
// interface and binds them to the retry policy through Gate.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"

	"github.com/joescharf/codereview/internal/retry"
)

// Part is one piece of a prompt: either text or an inline blob such as an image.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart returns a text prompt part.
func TextPart(s string) Part { return Part{Text: s} }

// BlobPart returns an inline data prompt part.
func BlobPart(data []byte, mimeType string) Part {
	return Part{Data: data, MIMEType: mimeType}
}

// IsBlob reports whether p carries inline data.
func (p Part) IsBlob() bool { return len(p.Data) > 0 }

func (p Part) base64() string { return base64.StdEncoding.EncodeToString(p.Data) }

// Request is a single model invocation.
type Request struct {
	System string
	Parts  []Part
	// JSON asks the provider for a JSON response body.
	JSON      bool
	MaxTokens int
}

// Provider generates raw text from a prompt.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// StatusError is a provider-neutral HTTP failure.
type StatusError struct {
	Provider string
	Code     int
	Status   string
	Message  string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: status %d (%s): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Message)
}

// Classify maps provider errors onto retry classes. Server errors and
// timeouts are transient, 429 and RESOURCE_EXHAUSTED are rate limits, and
// everything else, including errors of unknown type, is permanent.
func Classify(err error) retry.Class {
	if err == nil {
		return retry.Permanent
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Code, se.Status+" "+se.Message)
	}

	var gv genai.APIError
	if errors.As(err, &gv) {
		return classifyStatus(gv.Code, gv.Status+" "+gv.Message)
	}
	var gp *genai.APIError
	if errors.As(err, &gp) && gp != nil {
		return classifyStatus(gp.Code, gp.Status+" "+gp.Message)
	}

	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return classifyStatus(ae.StatusCode, "")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return retry.Transient
	}

	return retry.Permanent
}

func classifyStatus(code int, text string) retry.Class {
	if code == http.StatusTooManyRequests || strings.Contains(text, "RESOURCE_EXHAUSTED") {
		return retry.RateLimited
	}
	if code >= 500 {
		return retry.Transient
	}
	return retry.Permanent
}
