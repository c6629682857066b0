package report

import (
	"time"

	"github.com/google/uuid"
)

// FieldType is the input kind of a report field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldSelect   FieldType = "select"
	FieldDate     FieldType = "date"
)

var validFieldTypes = map[FieldType]bool{
	FieldText:     true,
	FieldTextarea: true,
	FieldNumber:   true,
	FieldBoolean:  true,
	FieldSelect:   true,
	FieldDate:     true,
}

// ValidFieldType reports whether t is a known field type.
func ValidFieldType(t FieldType) bool { return validFieldTypes[t] }

// Field maps to the report_field table. Only FieldName and IsRequired take
// part in status calculation.
type Field struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ReportTypeID  uuid.UUID `db:"report_type_id" json:"reportTypeId"`
	FieldName     string    `db:"field_name" json:"fieldName"`
	Label         string    `db:"label" json:"label"`
	FieldType     FieldType `db:"field_type" json:"fieldType"`
	Unit          *string   `db:"unit" json:"unit,omitempty"`
	Options       []string  `db:"options" json:"options,omitempty"`
	MinValue      *float64  `db:"min_value" json:"minValue,omitempty"`
	MaxValue      *float64  `db:"max_value" json:"maxValue,omitempty"`
	ReferenceLow  *float64  `db:"reference_low" json:"referenceLow,omitempty"`
	ReferenceHigh *float64  `db:"reference_high" json:"referenceHigh,omitempty"`
	IsRequired    bool      `db:"is_required" json:"isRequired"`
	DisplayOrder  int       `db:"display_order" json:"displayOrder"`
	IsActive      bool      `db:"is_active" json:"isActive"`
}

// ReportType maps to the report_type table.
type ReportType struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	Fields      []Field   `db:"-" json:"fields,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Instance maps to the report_instance table: one filled-in occurrence of a
// report type for a test assignment.
type Instance struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	TestAssignmentID uuid.UUID  `db:"test_assignment_id" json:"testAssignmentId"`
	ReportTypeID     uuid.UUID  `db:"report_type_id" json:"reportTypeId"`
	Values           ValueMap   `db:"report_values" json:"values"`
	Status           Status     `db:"status" json:"status"`
	CompletedAt      *time.Time `db:"completed_at" json:"completedAt"`
	CompletedBy      *string    `db:"completed_by" json:"completedBy,omitempty"`
	VersionID        int        `db:"version_id" json:"versionId"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// StatusUpdate is what the save workflow persists against an instance.
// CompletedAt is nil whenever Status is not completed.
type StatusUpdate struct {
	Values      ValueMap
	Status      Status
	CompletedAt *time.Time
	CompletedBy *string
}

// SaveResult is returned by Service.SaveReport.
type SaveResult struct {
	Instance       *Instance   `json:"instance"`
	PreviousStatus Status      `json:"previousStatus"`
	StatusChanged  bool        `json:"statusChanged"`
	Summary        Summary     `json:"summary"`
	Flags          []RangeFlag `json:"flags,omitempty"`
}

// Evaluation is a status preview that is never persisted.
type Evaluation struct {
	Status  Status           `json:"status"`
	Summary Summary          `json:"summary"`
	Flags   []RangeFlag      `json:"flags,omitempty"`
	Errors  ValidationErrors `json:"errors,omitempty"`
}

// StatusEntry is one row of a status index.
type StatusEntry struct {
	InstanceID   uuid.UUID `json:"instanceId"`
	ReportTypeID uuid.UUID `json:"reportTypeId"`
	Status       Status    `json:"status"`
}
