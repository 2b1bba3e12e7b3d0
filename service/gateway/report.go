package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"PromptToVideo-server/models"
)

// Report is the flat shape every provider failure is normalised into.
type Report = models.ErrorReport

// ProviderError is an HTTP-level failure from a model endpoint.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	if s := bodySummary(e.Body); s != "" {
		msg += ": " + s
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// OperationError is a failure reported inside a long-running operation after it was
// accepted, i.e. the error arrives through the poll rather than the submit call.
type OperationError struct {
	Operation string
	Code      int
	Message   string
	Details   json.RawMessage
}

func (e *OperationError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("operation %s failed (code %d): %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("operation %s failed: %s", e.Operation, e.Message)
}

// Normalize flattens any error, however deeply wrapped, into a Report.
func Normalize(err error) Report {
	if err == nil {
		return Report{Summary: "unknown error", Type: "unknown"}
	}
	// already normalised once, e.g. a failed structured call: keep its classification
	var inner *Report
	if errors.As(err, &inner) {
		rep := *inner
		chain := causeChain(err)
		rep.Causes = append(chain[:len(chain)-1:len(chain)-1], inner.Causes...)
		return rep
	}
	rep := Report{Type: classify(err)}

	var pe *ProviderError
	if errors.As(err, &pe) {
		code := pe.StatusCode
		rep.StatusCode = &code
		rep.Body = pe.Body
	}
	var oe *OperationError
	if errors.As(err, &oe) && oe.Code != 0 && rep.StatusCode == nil {
		code := oe.Code
		rep.StatusCode = &code
		if len(oe.Details) > 0 {
			rep.Body = string(oe.Details)
		}
	}

	rep.Causes = causeChain(err)
	switch {
	case pe != nil && bodySummary(pe.Body) != "":
		rep.Summary = bodySummary(pe.Body)
	case oe != nil && oe.Message != "":
		rep.Summary = oe.Message
	default:
		rep.Summary = rep.Causes[len(rep.Causes)-1]
	}
	return rep
}

// NormalizePtr is Normalize returning a pointer, convenient for optional fields.
func NormalizePtr(err error) *Report {
	r := Normalize(err)
	return &r
}

func classify(err error) string {
	var pe *ProviderError
	var oe *OperationError
	var me *MismatchError
	var ne net.Error
	var ue *url.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &oe):
		return "operation_error"
	case errors.As(err, &pe):
		switch {
		case pe.StatusCode == 429:
			return "rate_limited"
		case pe.StatusCode == 401 || pe.StatusCode == 403:
			return "auth_error"
		case pe.StatusCode >= 500:
			return "upstream_error"
		default:
			return "invalid_request"
		}
	case errors.Is(err, ErrSchemaMismatch), errors.As(err, &me):
		return "schema_mismatch"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.As(err, &ue):
		return "transport_error"
	}
	return "error"
}

// causeChain lists the message of every error in the chain, outermost first,
// following both single and joined wrapping.
func causeChain(err error) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(e error)
	walk = func(e error) {
		for e != nil {
			msg := e.Error()
			if !seen[msg] {
				seen[msg] = true
				out = append(out, msg)
			}
			if j, ok := e.(interface{ Unwrap() []error }); ok {
				for _, inner := range j.Unwrap() {
					walk(inner)
				}
				return
			}
			e = errors.Unwrap(e)
		}
	}
	walk(err)
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

// bodySummary digs the human-readable message out of a (possibly nested) JSON error body.
func bodySummary(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		if len(body) > 200 {
			return body[:200] + "..."
		}
		return body
	}
	return findMessage(v, 0)
}

func findMessage(v any, depth int) string {
	if depth > 6 {
		return ""
	}
	switch t := v.(type) {
	case map[string]any:
		// innermost message wins: providers wrap the real cause under error.error / details
		for _, k := range []string{"error", "details", "response"} {
			if inner, ok := t[k]; ok {
				if s := findMessage(inner, depth+1); s != "" {
					return s
				}
			}
		}
		for _, k := range []string{"message", "msg", "detail"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
	case []any:
		for _, item := range t {
			if s := findMessage(item, depth+1); s != "" {
				return s
			}
		}
	case string:
		if depth > 0 {
			// a JSON document embedded as a string
			if strings.HasPrefix(strings.TrimSpace(t), "{") {
				if s := bodySummary(t); s != "" {
					return s
				}
			}
			return t
		}
	}
	return ""
}
