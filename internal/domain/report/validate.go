package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldError describes a rejected value.
type FieldError struct {
	FieldName string `json:"fieldName"`
	Message   string `json:"message"`
}

// ValidationErrors collects every rejected value of a save.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.FieldName + ": " + fe.Message
	}
	return "invalid report values: " + strings.Join(parts, "; ")
}

const dateLayout = "2006-01-02"

// ValidateValues checks values against the definitions of the fields they
// target. Absent and blank values pass so partially entered reports can be
// saved. Keys with no matching field are left alone.
func ValidateValues(fields []Field, values ValueMap) ValidationErrors {
	var errs ValidationErrors
	for _, f := range fields {
		v, ok := values[f.FieldName]
		if !ok || !IsFieldFilled(v) {
			continue
		}
		if msg := checkValue(f, v); msg != "" {
			errs = append(errs, FieldError{FieldName: f.FieldName, Message: msg})
		}
	}
	return errs
}

func checkValue(f Field, v Value) string {
	switch f.FieldType {
	case FieldNumber:
		n, ok := numericValue(v)
		if !ok {
			return "must be a number"
		}
		if f.MinValue != nil && n < *f.MinValue {
			return fmt.Sprintf("must be at least %s", formatFloat(*f.MinValue))
		}
		if f.MaxValue != nil && n > *f.MaxValue {
			return fmt.Sprintf("must be at most %s", formatFloat(*f.MaxValue))
		}
	case FieldBoolean:
		if v.Kind() != KindBool {
			return "must be true or false"
		}
	case FieldSelect:
		s, ok := v.Str()
		if !ok {
			return "must be one of the listed options"
		}
		for _, opt := range f.Options {
			if opt == s {
				return ""
			}
		}
		return fmt.Sprintf("must be one of: %s", strings.Join(f.Options, ", "))
	case FieldDate:
		s, ok := v.Str()
		if !ok {
			return "must be a date (YYYY-MM-DD)"
		}
		if _, err := time.Parse(dateLayout, strings.TrimSpace(s)); err != nil {
			return "must be a date (YYYY-MM-DD)"
		}
	case FieldText, FieldTextarea:
		if v.Kind() == KindBool {
			return "must be text"
		}
	}
	return ""
}

// numericValue accepts numbers and numeric strings, since report forms
// post number inputs as text.
func numericValue(v Value) (float64, bool) {
	if n, ok := v.Num(); ok {
		return n, true
	}
	if s, ok := v.Str(); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Range flags for numeric results outside the reference interval.
const (
	FlagLow    = "low"
	FlagNormal = "normal"
	FlagHigh   = "high"
)

// RangeFlag marks a numeric result against its reference interval.
type RangeFlag struct {
	FieldName string  `json:"fieldName"`
	Value     float64 `json:"value"`
	Flag      string  `json:"flag"`
}

// ReferenceFlags reports low/normal/high for every numeric field that has a
// reference interval and a parseable value. Flags never affect status.
func ReferenceFlags(fields []Field, values ValueMap) []RangeFlag {
	var flags []RangeFlag
	for _, f := range fields {
		if f.FieldType != FieldNumber || (f.ReferenceLow == nil && f.ReferenceHigh == nil) {
			continue
		}
		n, ok := numericValue(values[f.FieldName])
		if !ok {
			continue
		}
		flag := FlagNormal
		switch {
		case f.ReferenceLow != nil && n < *f.ReferenceLow:
			flag = FlagLow
		case f.ReferenceHigh != nil && n > *f.ReferenceHigh:
			flag = FlagHigh
		}
		flags = append(flags, RangeFlag{FieldName: f.FieldName, Value: n, Flag: flag})
	}
	return flags
}
