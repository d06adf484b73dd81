// Package extract recovers a single source block from free-form model output.
//
// Extraction never fails. When no usable fenced block is present the whole
// response is returned and the result is flagged as a fallback so callers can
// log or surface the degradation.
package extract

import (
	"strings"
	"unicode"
)

// Fence is the marker that opens and closes a code block.
const Fence = "```"

// Result is the outcome of extracting code from a model response.
type Result struct {
	Code string
	// Fallback is true when the code is the whole response rather than the
	// content of a fenced block.
	Fallback bool
}

// Extract returns the content between the first opening fence and the last
// closing fence. An info string on the opening line (e.g. "python") is not
// part of the content. If the fences are missing, out of order, or enclose
// only whitespace, the trimmed response is returned with Fallback set.
func Extract(response string) Result {
	open := strings.Index(response, Fence)
	if open < 0 {
		return fallback(response)
	}

	bodyStart := open + len(Fence)
	bodyStart += infoStringLen(response[bodyStart:])

	closing := strings.LastIndex(response, Fence)
	if closing < bodyStart {
		return fallback(response)
	}

	code := strings.TrimSpace(response[bodyStart:closing])
	if code == "" {
		return fallback(response)
	}
	return Result{Code: code}
}

// Clean removes every line whose first non-whitespace character is '#'.
// It is applied before execution only, so the persisted artifact keeps the
// model's comments.
func Clean(code string) string {
	lines := strings.Split(code, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeftFunc(line, unicode.IsSpace), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func fallback(response string) Result {
	return Result{Code: strings.TrimSpace(response), Fallback: true}
}

// infoStringLen reports how many bytes after an opening fence belong to the
// info string, including the terminating newline. Text on the fence line that
// contains spaces or backticks is treated as code, not as a language tag.
func infoStringLen(s string) int {
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return 0
	}
	tag := strings.TrimSpace(s[:nl])
	if strings.ContainsAny(tag, " \t`") {
		return 0
	}
	return nl + 1
}
