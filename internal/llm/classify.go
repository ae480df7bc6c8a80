package llm

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Category is the failure taxonomy surfaced to the user after the rotation is
// exhausted. Categories are checked in declaration order.
type Category string

const (
	CategoryRateLimited Category = "rate_limited"
	CategoryOverloaded  Category = "overloaded"
	CategoryTerminated  Category = "terminated"
	CategoryBlocked     Category = "blocked"
	CategoryTransport   Category = "transport"
	CategoryUnknown     Category = "unknown"
)

// Attempt is one entry of the fallback log.
type Attempt struct {
	Profile Profile
	Result  *Result
	Skipped bool // cooling down, no request made
}

// Failure is the classified outcome of an exhausted rotation.
type Failure struct {
	Category   Category
	Truncated  bool // Terminated by length exhaustion
	Message    string
	Diagnostic string
}

// maxReasonLen bounds reasons and errors echoed into the diagnostic.
const maxReasonLen = 120

// Classify derives the failure category from the first attempt that reached a
// backend, and builds the user message and a per-attempt diagnostic.
func Classify(attempts []Attempt) Failure {
	var first *Result
	tried := 0
	for _, a := range attempts {
		if a.Skipped || a.Result == nil {
			continue
		}
		tried++
		if first == nil {
			first = a.Result
		}
	}

	f := Failure{Category: CategoryUnknown}
	if first != nil {
		f.Category, f.Truncated = categorize(first)
	}
	f.Message = userMessage(f, tried)
	f.Diagnostic = diagnostic(attempts)
	return f
}

func categorize(r *Result) (Category, bool) {
	switch {
	case r.HTTPStatus == 429:
		return CategoryRateLimited, false
	case r.HTTPStatus == 503, r.HTTPStatus == 529: // 529: Anthropic overloaded
		return CategoryOverloaded, false
	case r.FinishReason != "" && !IsNormalStop(r.FinishReason):
		return CategoryTerminated, IsLengthReason(r.FinishReason)
	case r.BlockReason != "":
		return CategoryBlocked, false
	case r.Err != nil && (r.HTTPStatus == 0 || isSuccessStatus(r.HTTPStatus)):
		// A 2xx with an error means the body never arrived or never parsed.
		return CategoryTransport, false
	default:
		return CategoryUnknown, false
	}
}

func isSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

func userMessage(f Failure, tried int) string {
	if tried > 1 {
		return fmt.Sprintf("All %d configured models failed; automatic fallback was attempted without success. Please try again later.", tried)
	}
	switch f.Category {
	case CategoryRateLimited:
		return "The model is rate limited right now. Please wait a moment and try again."
	case CategoryOverloaded:
		return "The model is overloaded right now. Please try again shortly."
	case CategoryTerminated:
		if f.Truncated {
			return "The reply was cut off at the token limit. Try a shorter question or raise maxTokens."
		}
		return "The model stopped before finishing its reply."
	case CategoryBlocked:
		return "The model declined to answer this message."
	case CategoryTransport:
		return "Could not reach the model. Check the network connection and endpoint."
	default:
		return "The model returned no usable reply."
	}
}

func diagnostic(attempts []Attempt) string {
	var sb strings.Builder
	for i, a := range attempts {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "attempt %d: profile=%s", i+1, a.Profile.Name)
		if a.Skipped {
			sb.WriteString(" skipped=cooldown")
			continue
		}
		r := a.Result
		if r == nil {
			sb.WriteString(" result=none")
			continue
		}
		fmt.Fprintf(&sb, " status=%d", r.HTTPStatus)
		if r.FinishReason != "" {
			fmt.Fprintf(&sb, " finish=%s", truncate(r.FinishReason))
		}
		if r.BlockReason != "" {
			fmt.Fprintf(&sb, " block=%s", truncate(r.BlockReason))
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(&sb, " message=%q", truncate(r.ErrorMessage))
		}
		if r.Err != nil {
			fmt.Fprintf(&sb, " error=%q", truncate(r.Err.Error()))
			if cause := ClassifyErr(r.Err); cause != ErrorTypeUnknown {
				fmt.Fprintf(&sb, " cause=%s", cause)
			}
		} else if r.ErrorMessage != "" {
			if cause := ClassifyMessage(r.ErrorMessage); cause != ErrorTypeUnknown {
				fmt.Fprintf(&sb, " cause=%s", cause)
			}
		}
		fmt.Fprintf(&sb, " bytes=%d chars=%d", len(r.RawBody), utf8.RuneCount(r.RawBody))
		if r.Duration > 0 {
			fmt.Fprintf(&sb, " took=%s", r.Duration.Round(time.Millisecond))
		}
	}
	return sb.String()
}

func truncate(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if utf8.RuneCountInString(s) <= maxReasonLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxReasonLen]) + "..."
}
