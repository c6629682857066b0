package report

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInactiveReportType = errors.New("report type is inactive")
)

// FieldDefinitionProvider returns the active fields of a report type
// ordered by display order.
type FieldDefinitionProvider interface {
	ListActiveFields(ctx context.Context, reportTypeID uuid.UUID) ([]Field, error)
}

type ReportTypeRepository interface {
	FieldDefinitionProvider
	GetByID(ctx context.Context, id uuid.UUID) (*ReportType, error)
	GetByCode(ctx context.Context, code string) (*ReportType, error)
	List(ctx context.Context, activeOnly bool) ([]*ReportType, error)
	// Upsert inserts or updates a report type by code and replaces its fields.
	Upsert(ctx context.Context, rt *ReportType) error
}

type InstanceRepository interface {
	Create(ctx context.Context, inst *Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instance, error)
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID, limit, offset int) ([]*Instance, int, error)
	ListByAssignments(ctx context.Context, assignmentIDs []uuid.UUID) ([]*Instance, error)
	ListByReportType(ctx context.Context, reportTypeID uuid.UUID) ([]*Instance, error)
	// SaveStatus persists values, status and the completion stamp and bumps
	// the version. It is the persistence sink of the save workflow.
	SaveStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (*Instance, error)
}

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// noTx runs fn directly. Used when no database is wired, e.g. in tests.
type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
