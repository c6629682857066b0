package report

import (
	"fmt"
	"math"
	"strings"
)

// Status is the derived completeness of a report instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// ParseStatus converts a wire literal into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid report status: %q", s)
}

// Valid reports whether s is one of the three statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Rank orders statuses: pending 0, in-progress 1, completed 2. Unknown is -1.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// IsFieldFilled reports whether v holds a usable entry. Strings must be
// non-blank after trimming; any present number or boolean counts.
func IsFieldFilled(v Value) bool {
	switch v.Kind() {
	case KindAbsent:
		return false
	case KindString:
		s, _ := v.Str()
		return strings.TrimSpace(s) != ""
	default:
		return true
	}
}

// CalculateStatus derives the status of a report instance from its field
// definitions and the values entered so far.
func CalculateStatus(fields []Field, values ValueMap) Status {
	required := 0
	for _, f := range fields {
		if f.IsRequired {
			required++
		}
	}

	if required == 0 {
		if len(values) > 0 {
			return StatusCompleted
		}
		return StatusPending
	}

	if !anyFilled(values) {
		return StatusPending
	}
	if filledRequired(fields, values) == required {
		return StatusCompleted
	}
	return StatusInProgress
}

func anyFilled(values ValueMap) bool {
	for _, v := range values {
		if IsFieldFilled(v) {
			return true
		}
	}
	return false
}

func filledRequired(fields []Field, values ValueMap) int {
	n := 0
	for _, f := range fields {
		if f.IsRequired && IsFieldFilled(values[f.FieldName]) {
			n++
		}
	}
	return n
}

// Summary is a progress indicator over the required fields of a report.
type Summary struct {
	FilledCount     int      `json:"filledCount"`
	TotalRequired   int      `json:"totalRequired"`
	PercentComplete int      `json:"percentComplete"`
	MissingFields   []string `json:"missingFields"`
}

// CompletionSummary counts filled required fields. A report type with no
// required fields is 100 percent complete regardless of values.
func CompletionSummary(fields []Field, values ValueMap) Summary {
	s := Summary{MissingFields: []string{}}
	for _, f := range fields {
		if !f.IsRequired {
			continue
		}
		s.TotalRequired++
		if IsFieldFilled(values[f.FieldName]) {
			s.FilledCount++
		} else {
			s.MissingFields = append(s.MissingFields, f.FieldName)
		}
	}
	if s.TotalRequired == 0 {
		s.PercentComplete = 100
		return s
	}
	s.PercentComplete = int(math.Round(float64(s.FilledCount) / float64(s.TotalRequired) * 100))
	return s
}
