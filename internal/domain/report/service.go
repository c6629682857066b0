package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/websocket"
)

const EventStatusChanged = "report.status_changed"

type Service struct {
	types     ReportTypeRepository
	instances InstanceRepository
	tx        Transactor
	pub       websocket.EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(types ReportTypeRepository, instances InstanceRepository, tx Transactor) *Service {
	if tx == nil {
		tx = noTx{}
	}
	return &Service{
		types:     types,
		instances: instances,
		tx:        tx,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
}

// SetPublisher attaches an optional publisher for status change events.
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.pub = p }

// SetLogger replaces the service logger.
func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// -- Report types --

func (s *Service) ListReportTypes(ctx context.Context, activeOnly bool) ([]*ReportType, error) {
	return s.types.List(ctx, activeOnly)
}

// GetReportType returns the report type with its active fields.
func (s *Service) GetReportType(ctx context.Context, id uuid.UUID) (*ReportType, error) {
	rt, err := s.types.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fields, err := s.types.ListActiveFields(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load fields of report type %s: %w", id, err)
	}
	rt.Fields = fields
	return rt, nil
}

func (s *Service) ListActiveFields(ctx context.Context, reportTypeID uuid.UUID) ([]Field, error) {
	if _, err := s.types.GetByID(ctx, reportTypeID); err != nil {
		return nil, err
	}
	return s.types.ListActiveFields(ctx, reportTypeID)
}

// -- Report instances --

// CreateInstance starts an empty, pending report for a test assignment.
func (s *Service) CreateInstance(ctx context.Context, assignmentID, reportTypeID uuid.UUID) (*Instance, error) {
	if assignmentID == uuid.Nil {
		return nil, fmt.Errorf("testAssignmentId is required")
	}
	rt, err := s.types.GetByID(ctx, reportTypeID)
	if err != nil {
		return nil, err
	}
	if !rt.IsActive {
		return nil, ErrInactiveReportType
	}
	inst := &Instance{
		TestAssignmentID: assignmentID,
		ReportTypeID:     reportTypeID,
		Values:           ValueMap{},
		Status:           StatusPending,
	}
	if err := s.instances.Create(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) GetInstance(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return s.instances.GetByID(ctx, id)
}

func (s *Service) ListInstancesByAssignment(ctx context.Context, assignmentID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	return s.instances.ListByAssignment(ctx, assignmentID, limit, offset)
}

// completionStamp applies the completion timestamp rule: a completed report
// keeps its first completion time, any other status clears it.
func (s *Service) completionStamp(prev *Instance, status Status, userID string) (*time.Time, *string) {
	if status != StatusCompleted {
		return nil, nil
	}
	if prev.Status == StatusCompleted && prev.CompletedAt != nil {
		return prev.CompletedAt, prev.CompletedBy
	}
	now := s.now().UTC()
	if userID == "" {
		return &now, nil
	}
	return &now, &userID
}

// SaveReport replaces the values of a report instance, recomputes its
// status and persists both in one transaction. Concurrent saves of the same
// instance are last-write-wins.
func (s *Service) SaveReport(ctx context.Context, id uuid.UUID, values ValueMap, userID string) (*SaveResult, error) {
	if values == nil {
		values = ValueMap{}
	}

	var (
		result *SaveResult
		fields []Field
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		prev, err := s.instances.GetByID(ctx, id)
		if err != nil {
			return err
		}
		fields, err = s.types.ListActiveFields(ctx, prev.ReportTypeID)
		if err != nil {
			return fmt.Errorf("load fields of report type %s: %w", prev.ReportTypeID, err)
		}
		if errs := ValidateValues(fields, values); len(errs) > 0 {
			return errs
		}

		status := CalculateStatus(fields, values)
		completedAt, completedBy := s.completionStamp(prev, status, userID)
		saved, err := s.instances.SaveStatus(ctx, id, StatusUpdate{
			Values:      values,
			Status:      status,
			CompletedAt: completedAt,
			CompletedBy: completedBy,
		})
		if err != nil {
			return fmt.Errorf("save report %s: %w", id, err)
		}

		result = &SaveResult{
			Instance:       saved,
			PreviousStatus: prev.Status,
			StatusChanged:  prev.Status != status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Summary = CompletionSummary(fields, values)
	result.Flags = ReferenceFlags(fields, values)

	s.logger.Info().
		Str("report_id", id.String()).
		Str("from", string(result.PreviousStatus)).
		Str("to", string(result.Instance.Status)).
		Int("version", result.Instance.VersionID).
		Msg("report saved")

	if result.StatusChanged {
		s.publishStatusChange(ctx, result.Instance, result.PreviousStatus)
	}
	return result, nil
}

// Summary returns the completion summary of a stored report.
func (s *Service) Summary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fields, err := s.types.ListActiveFields(ctx, inst.ReportTypeID)
	if err != nil {
		return nil, err
	}
	sum := CompletionSummary(fields, inst.Values)
	return &sum, nil
}

// Evaluate previews the status of values against a report type without
// persisting anything. Validation problems are reported, not returned.
func (s *Service) Evaluate(ctx context.Context, reportTypeID uuid.UUID, values ValueMap) (*Evaluation, error) {
	fields, err := s.ListActiveFields(ctx, reportTypeID)
	if err != nil {
		return nil, err
	}
	return &Evaluation{
		Status:  CalculateStatus(fields, values),
		Summary: CompletionSummary(fields, values),
		Flags:   ReferenceFlags(fields, values),
		Errors:  ValidateValues(fields, values),
	}, nil
}

// StatusIndex groups the statuses of every report of the given assignments.
// The map is built per call; nothing is cached between requests.
func (s *Service) StatusIndex(ctx context.Context, assignmentIDs []uuid.UUID) (map[uuid.UUID][]StatusEntry, error) {
	index := make(map[uuid.UUID][]StatusEntry, len(assignmentIDs))
	for _, id := range assignmentIDs {
		index[id] = []StatusEntry{}
	}
	items, err := s.instances.ListByAssignments(ctx, assignmentIDs)
	if err != nil {
		return nil, err
	}
	for _, inst := range items {
		index[inst.TestAssignmentID] = append(index[inst.TestAssignmentID], StatusEntry{
			InstanceID:   inst.ID,
			ReportTypeID: inst.ReportTypeID,
			Status:       inst.Status,
		})
	}
	return index, nil
}

// Recalculate recomputes the status of every instance of a report type,
// typically after its field definitions changed. It returns the number of
// instances whose status or completion stamp was rewritten.
func (s *Service) Recalculate(ctx context.Context, reportTypeID uuid.UUID) (int, error) {
	type change struct {
		inst *Instance
		from Status
	}
	var changes []change

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		fields, err := s.ListActiveFields(ctx, reportTypeID)
		if err != nil {
			return err
		}
		items, err := s.instances.ListByReportType(ctx, reportTypeID)
		if err != nil {
			return err
		}
		for _, inst := range items {
			status := CalculateStatus(fields, inst.Values)
			stampOK := (status == StatusCompleted) == (inst.CompletedAt != nil)
			if status == inst.Status && stampOK {
				continue
			}
			completedAt, completedBy := s.completionStamp(inst, status, "")
			saved, err := s.instances.SaveStatus(ctx, inst.ID, StatusUpdate{
				Values:      inst.Values,
				Status:      status,
				CompletedAt: completedAt,
				CompletedBy: completedBy,
			})
			if err != nil {
				return fmt.Errorf("recalculate report %s: %w", inst.ID, err)
			}
			changes = append(changes, change{inst: saved, from: inst.Status})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, c := range changes {
		if c.from != c.inst.Status {
			s.publishStatusChange(ctx, c.inst, c.from)
		}
	}
	s.logger.Info().
		Str("report_type_id", reportTypeID.String()).
		Int("updated", len(changes)).
		Msg("report statuses recalculated")
	return len(changes), nil
}

type statusChange struct {
	From             Status     `json:"from"`
	To               Status     `json:"to"`
	TestAssignmentID uuid.UUID  `json:"testAssignmentId"`
	CompletedAt      *time.Time `json:"completedAt"`
}

// publishStatusChange notifies the report, its assignment and the global
// topic. Delivery failures are logged; the save has already committed.
func (s *Service) publishStatusChange(ctx context.Context, inst *Instance, from Status) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(statusChange{
		From:             from,
		To:               inst.Status,
		TestAssignmentID: inst.TestAssignmentID,
		CompletedAt:      inst.CompletedAt,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal status change")
		return
	}

	topics := []string{
		websocket.ReportTopic(inst.ID),
		websocket.AssignmentTopic(inst.TestAssignmentID),
		websocket.AllReportsTopic,
	}
	for _, topic := range topics {
		evt := websocket.Event{
			Type:         EventStatusChanged,
			Topic:        topic,
			ResourceType: "ReportInstance",
			ResourceID:   inst.ID.String(),
			Timestamp:    s.now().UTC(),
			Data:         data,
		}
		if err := s.pub.Publish(ctx, evt); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("publish status change")
		}
	}
}

// IsValidation reports whether err carries value validation errors.
func IsValidation(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
