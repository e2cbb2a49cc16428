package review

import (
	"fmt"
	"regexp"
	"strings"
)

// SystemPrompt is the fixed instruction sent with every code review.
const SystemPrompt = `You are an expert senior software engineer reviewing source code.

Analyze the code for bugs, security issues, performance problems, style and
maintainability issues. Explain each issue clearly and suggest a fix.

Respond with a single JSON object with all of these fields:

{
  "summary": {"issueCount": number, "criticalCount": number, "warningCount": number},
  "issues": [
    {
      "id": "string",
      "line": number,
      "severity": "critical" | "warning" | "info",
      "category": "bug" | "security" | "performance" | "style" | "maintainability" | "other",
      "title": "short title",
      "explanation": "what is wrong and why",
      "suggestedFix": "code showing the fix"
    }
  ],
  "codeLength": number,
  "codeLanguage": "string",
  "suggestions": ["general suggestions"],
  "improved_code": "the full improved code, or an empty string"
}

If there are no issues use 0 for every count and empty arrays.
Do not write anything before or after the JSON.`

// UnreadableMarker tags lines the extraction step could not read.
const UnreadableMarker = "[UNREADABLE]"

// ExtractionPrompt asks the model to transcribe the code shown in an image.
const ExtractionPrompt = "Extract ONLY the code from this image. Preserve exact indentation. " +
	"Return exactly one markdown code block and nothing else. " +
	"Mark any line you cannot read with " + UnreadableMarker + "."

// BuildReviewPrompt renders the user part of a review request.
func BuildReviewPrompt(code, language string) string {
	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "auto"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Code language: %s\n\n", lang)
	b.WriteString("Code:\n```\n")
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}

var codeBlockRe = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```")

// ExtractCode returns the body of the first fenced code block in text, or the
// whole text when there is none. Indentation inside the block is kept.
func ExtractCode(text string) string {
	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(strings.TrimLeft(m[1], "\r\n"), " \t\r\n")
	}
	return strings.TrimSpace(text)
}
