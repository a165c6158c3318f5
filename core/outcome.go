package core

import (
	"fmt"
	"strings"
)

// Terminal error kinds. Entries in AnalysisState.AnalysisErrors always start
// with one of these followed by a colon.
const (
	KindSearchFailed     = "TAVILY_SEARCH_FAILED"
	KindComparisonFailed = "PRICE_COMPARISON_FAILED"
	KindScoringFailed    = "DEAL_SCORING_FAILED"
	KindDisagreement     = "DISAGREEMENT_PERSISTENT"
	KindUnknown          = "UNKNOWN_ERROR"
)

// Stage-local failure kinds carried by result slots.
const (
	KindDependency     = "DEPENDENCY_UNMET"
	KindNoData         = "NO_DATA"
	KindUnavailable    = "UNAVAILABLE"
	KindDisabled       = "DISABLED"
	KindProvider       = "PROVIDER_ERROR"
	KindParse          = "PARSE_ERROR"
	KindNotImplemented = "NOT_IMPLEMENTED"
)

// Outcome is the tagged result of a worker: either Ok or Err(kind, message).
// The zero value is Err with an empty kind, so constructors must be used.
type Outcome struct {
	ok      bool
	kind    string
	message string
}

// Ok returns a successful outcome.
func Ok() Outcome { return Outcome{ok: true} }

// Err returns a failed outcome of the given kind.
func Err(kind, format string, args ...any) Outcome {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return Outcome{kind: kind, message: msg}
}

// IsOk reports whether the outcome is the Ok variant.
func (o Outcome) IsOk() bool { return o.ok }

// Kind returns the failure kind ("" for Ok).
func (o Outcome) Kind() string { return o.kind }

// Message returns the failure message ("" for Ok).
func (o Outcome) Message() string { return o.message }

// Status converts the outcome into the serialisable slot header.
func (o Outcome) Status() Status {
	if o.ok {
		return Status{Success: true}
	}
	return Status{Success: false, Kind: o.kind, Error: o.message}
}

func (o Outcome) String() string {
	if o.ok {
		return "ok"
	}
	return FormatError(o.kind, o.message)
}

// Status is embedded in every result slot. Success must only be true when the
// slot's own dependencies were met with real data.
type Status struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Outcome re-tags a stored status.
func (s Status) Outcome() Outcome {
	if s.Success {
		return Ok()
	}
	kind := s.Kind
	if kind == "" {
		kind = KindUnknown
	}
	return Outcome{kind: kind, message: s.Error}
}

// Failed reports whether the slot recorded an explicit failure.
func (s Status) Failed() bool { return !s.Success && s.Error != "" }

// FormatError renders a terminal error entry "KIND: detail".
func FormatError(kind, detail string) string {
	if detail == "" {
		return kind
	}
	return kind + ": " + detail
}

// ErrorKind extracts the machine-parsable prefix of an error entry: the text
// before the first colon. Entries without a colon are their own kind; empty
// entries map to UNKNOWN_ERROR.
func ErrorKind(entry string) string {
	kind, _, _ := strings.Cut(entry, ":")
	if kind = strings.TrimSpace(kind); kind == "" {
		return KindUnknown
	}
	return kind
}
