package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Report types --

type reportTypeRepoPG struct{ pool *pgxpool.Pool }

func NewReportTypeRepoPG(pool *pgxpool.Pool) ReportTypeRepository {
	return &reportTypeRepoPG{pool: pool}
}

func (r *reportTypeRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const reportTypeCols = `id, code, name, description, is_active, created_at, updated_at`

const fieldCols = `id, report_type_id, field_name, label, field_type, unit, options,
	min_value, max_value, reference_low, reference_high, is_required, display_order, is_active`

func scanReportType(row pgx.Row) (*ReportType, error) {
	var rt ReportType
	if err := row.Scan(&rt.ID, &rt.Code, &rt.Name, &rt.Description, &rt.IsActive, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &rt, nil
}

func scanField(row pgx.Row) (Field, error) {
	var f Field
	err := row.Scan(&f.ID, &f.ReportTypeID, &f.FieldName, &f.Label, &f.FieldType, &f.Unit, &f.Options,
		&f.MinValue, &f.MaxValue, &f.ReferenceLow, &f.ReferenceHigh, &f.IsRequired, &f.DisplayOrder, &f.IsActive)
	return f, err
}

func (r *reportTypeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ReportType, error) {
	return scanReportType(r.conn(ctx).QueryRow(ctx, `SELECT `+reportTypeCols+` FROM report_type WHERE id = $1`, id))
}

func (r *reportTypeRepoPG) GetByCode(ctx context.Context, code string) (*ReportType, error) {
	return scanReportType(r.conn(ctx).QueryRow(ctx, `SELECT `+reportTypeCols+` FROM report_type WHERE code = $1`, code))
}

func (r *reportTypeRepoPG) List(ctx context.Context, activeOnly bool) ([]*ReportType, error) {
	q := `SELECT ` + reportTypeCols + ` FROM report_type`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY name`

	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ReportType
	for rows.Next() {
		rt, err := scanReportType(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rt)
	}
	return items, rows.Err()
}

func (r *reportTypeRepoPG) ListActiveFields(ctx context.Context, reportTypeID uuid.UUID) ([]Field, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+fieldCols+` FROM report_field
		WHERE report_type_id = $1 AND is_active
		ORDER BY display_order, field_name`, reportTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var fields []Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// Upsert matches report types by code and fields by name within the type.
// Fields missing from rt.Fields are deactivated, not deleted, so stored
// values keep their definitions.
func (r *reportTypeRepoPG) Upsert(ctx context.Context, rt *ReportType) error {
	q := r.conn(ctx)
	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO report_type (id, code, name, description, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			is_active = EXCLUDED.is_active, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		rt.ID, rt.Code, rt.Name, rt.Description, rt.IsActive,
	).Scan(&rt.ID, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert report type %s: %w", rt.Code, err)
	}

	names := make([]string, 0, len(rt.Fields))
	for i := range rt.Fields {
		f := &rt.Fields[i]
		f.ReportTypeID = rt.ID
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		names = append(names, f.FieldName)
		err := q.QueryRow(ctx, `
			INSERT INTO report_field (id, report_type_id, field_name, label, field_type, unit, options,
				min_value, max_value, reference_low, reference_high, is_required, display_order, is_active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (report_type_id, field_name) DO UPDATE SET
				label = EXCLUDED.label, field_type = EXCLUDED.field_type, unit = EXCLUDED.unit,
				options = EXCLUDED.options, min_value = EXCLUDED.min_value, max_value = EXCLUDED.max_value,
				reference_low = EXCLUDED.reference_low, reference_high = EXCLUDED.reference_high,
				is_required = EXCLUDED.is_required, display_order = EXCLUDED.display_order,
				is_active = EXCLUDED.is_active
			RETURNING id`,
			f.ID, f.ReportTypeID, f.FieldName, f.Label, f.FieldType, f.Unit, f.Options,
			f.MinValue, f.MaxValue, f.ReferenceLow, f.ReferenceHigh, f.IsRequired, f.DisplayOrder, f.IsActive,
		).Scan(&f.ID)
		if err != nil {
			return fmt.Errorf("upsert field %s.%s: %w", rt.Code, f.FieldName, err)
		}
	}

	if _, err := q.Exec(ctx, `UPDATE report_field SET is_active = FALSE
		WHERE report_type_id = $1 AND NOT (field_name = ANY($2))`, rt.ID, names); err != nil {
		return fmt.Errorf("deactivate removed fields of %s: %w", rt.Code, err)
	}
	return nil
}

// -- Report instances --

type instanceRepoPG struct{ pool *pgxpool.Pool }

func NewInstanceRepoPG(pool *pgxpool.Pool) InstanceRepository {
	return &instanceRepoPG{pool: pool}
}

func (r *instanceRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const instanceCols = `id, test_assignment_id, report_type_id, report_values, status,
	completed_at, completed_by, version_id, created_at, updated_at`

func scanInstance(row pgx.Row) (*Instance, error) {
	var (
		inst   Instance
		raw    []byte
		status string
	)
	err := row.Scan(&inst.ID, &inst.TestAssignmentID, &inst.ReportTypeID, &raw, &status,
		&inst.CompletedAt, &inst.CompletedBy, &inst.VersionID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	inst.Status = Status(status)
	inst.Values = ValueMap{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &inst.Values); err != nil {
			return nil, fmt.Errorf("decode values of report %s: %w", inst.ID, err)
		}
	}
	return &inst, nil
}

func collectInstances(rows pgx.Rows) ([]*Instance, error) {
	defer rows.Close()
	var items []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	return items, rows.Err()
}

func encodeValues(v ValueMap) ([]byte, error) {
	if v == nil {
		v = ValueMap{}
	}
	return json.Marshal(v)
}

func (r *instanceRepoPG) Create(ctx context.Context, inst *Instance) error {
	inst.ID = uuid.New()
	if inst.Status == "" {
		inst.Status = StatusPending
	}
	raw, err := encodeValues(inst.Values)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO report_instance (id, test_assignment_id, report_type_id, report_values, status, completed_at, completed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING version_id, created_at, updated_at`,
		inst.ID, inst.TestAssignmentID, inst.ReportTypeID, raw, string(inst.Status), inst.CompletedAt, inst.CompletedBy,
	).Scan(&inst.VersionID, &inst.CreatedAt, &inst.UpdatedAt)
}

func (r *instanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return scanInstance(r.conn(ctx).QueryRow(ctx, `SELECT `+instanceCols+` FROM report_instance WHERE id = $1`, id))
}

func (r *instanceRepoPG) ListByAssignment(ctx context.Context, assignmentID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report_instance WHERE test_assignment_id = $1`, assignmentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+instanceCols+` FROM report_instance
		WHERE test_assignment_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`, assignmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectInstances(rows)
	return items, total, err
}

func (r *instanceRepoPG) ListByAssignments(ctx context.Context, assignmentIDs []uuid.UUID) ([]*Instance, error) {
	if len(assignmentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+instanceCols+` FROM report_instance
		WHERE test_assignment_id = ANY($1) ORDER BY created_at`, assignmentIDs)
	if err != nil {
		return nil, err
	}
	return collectInstances(rows)
}

func (r *instanceRepoPG) ListByReportType(ctx context.Context, reportTypeID uuid.UUID) ([]*Instance, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+instanceCols+` FROM report_instance
		WHERE report_type_id = $1 ORDER BY created_at`, reportTypeID)
	if err != nil {
		return nil, err
	}
	return collectInstances(rows)
}

func (r *instanceRepoPG) SaveStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (*Instance, error) {
	raw, err := encodeValues(upd.Values)
	if err != nil {
		return nil, err
	}
	var completedAt *time.Time
	if upd.Status == StatusCompleted {
		completedAt = upd.CompletedAt
	}
	return scanInstance(r.conn(ctx).QueryRow(ctx, `
		UPDATE report_instance SET report_values = $2, status = $3, completed_at = $4, completed_by = $5,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+instanceCols,
		id, raw, string(upd.Status), completedAt, upd.CompletedBy))
}
