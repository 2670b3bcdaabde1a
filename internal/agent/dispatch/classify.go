package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentloop-core/server/internal/agent/model"
)

var errToolPanic = errors.New("tool panicked")

// rateLimitMarkers are provider phrases for throttling and quota exhaustion.
// Bare words such as "quota" or a lone number are not enough: tool content
// in this domain mentions quotas and prices like 94290.
var rateLimitMarkers = []string{
	"rate limit",
	"ratelimit",
	"rate_limit",
	"too many requests",
	"resource_exhausted",
	"resource exhausted",
	"quota exceeded",
	"quota exhausted",
	"exceeded your quota",
	"exceeded your current quota",
	"out of quota",
}

// statusTooManyPattern matches a 429 status code written as a status, not as
// part of a larger number.
var statusTooManyPattern = regexp.MustCompile(`(?i)(?:^|\b(?:http|status|code|error)\s*[:=]?\s*)429\b`)

// errorPrefixes mark a free-text result that is really an error report.
var errorPrefixes = []string{
	"error:",
	"error -",
	"exception:",
	"failed:",
	"traceback (most recent call last)",
}

// shortResultLimit bounds how long a plain result may be and still be read as
// a provider throttling notice rather than content.
const shortResultLimit = 240

// IsRateLimited reports whether text looks like a throttling or quota error.
func IsRateLimited(text string) bool {
	t := strings.ToLower(text)
	for _, m := range rateLimitMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return statusTooManyPattern.MatchString(strings.TrimSpace(t))
}

// Classify normalises a raw tool return into a ToolOutcome. It handles
// returned errors, JSON results with an "error" field and free-text results
// that embed an error.
func Classify(name, out string, err error) model.ToolOutcome {
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return model.Failure(name, model.ReasonTimeout, err.Error())
		case errors.Is(err, errToolPanic):
			return model.Failure(name, model.ReasonPanic, err.Error())
		case IsRateLimited(err.Error()):
			return model.Failure(name, model.ReasonRateLimited, err.Error())
		default:
			return model.Failure(name, model.ReasonExecution, err.Error())
		}
	}

	if detail, ok := reportedError(out); ok {
		if IsRateLimited(detail) {
			return model.Failure(name, model.ReasonRateLimited, detail)
		}
		return model.Failure(name, model.ReasonReported, detail)
	}
	return model.Success(name, out)
}

func reportedError(out string) (string, bool) {
	s := strings.TrimSpace(out)
	if s == "" {
		return "", false
	}

	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if json.Unmarshal([]byte(s), &obj) == nil {
			return errorField(obj["error"])
		}
	}

	lower := strings.ToLower(s)
	for _, p := range errorPrefixes {
		if strings.HasPrefix(lower, p) {
			return s, true
		}
	}
	if strings.HasPrefix(s, "[") && json.Valid([]byte(s)) {
		return "", false
	}
	if len(s) <= shortResultLimit && IsRateLimited(s) {
		return s, true
	}
	return "", false
}

func errorField(v any) (string, bool) {
	switch e := v.(type) {
	case nil:
		return "", false
	case string:
		e = strings.TrimSpace(e)
		return e, e != ""
	case bool:
		if e {
			return "error", true
		}
		return "", false
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg, true
		}
		b, _ := json.Marshal(e)
		return string(b), len(e) > 0
	default:
		return fmt.Sprint(e), true
	}
}
