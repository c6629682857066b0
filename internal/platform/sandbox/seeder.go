package sandbox

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/report"
)

// SeedResult summarises a catalog seed.
type SeedResult struct {
	ReportTypes int      `json:"reportTypes"`
	Fields      int      `json:"fields"`
	Codes       []string `json:"codes"`
	Samples     int      `json:"samples"`
}

// ReportWriter is the part of the report service used to write samples.
type ReportWriter interface {
	CreateInstance(ctx context.Context, assignmentID, reportTypeID uuid.UUID) (*report.Instance, error)
	SaveReport(ctx context.Context, id uuid.UUID, values report.ValueMap, userID string) (*report.SaveResult, error)
}

type Seeder struct {
	types  report.ReportTypeRepository
	tx     report.Transactor
	logger zerolog.Logger
}

// NewSeeder upserts catalogs through types. When tx is non-nil the whole
// catalog is written in one transaction.
func NewSeeder(types report.ReportTypeRepository, tx report.Transactor, logger zerolog.Logger) *Seeder {
	return &Seeder{types: types, tx: tx, logger: logger}
}

// Seed validates and upserts every report type of the catalog.
func (s *Seeder) Seed(ctx context.Context, c *Catalog) (*SeedResult, []*report.ReportType, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	types := c.ReportTypes()
	res := &SeedResult{}
	write := func(ctx context.Context) error {
		for _, rt := range types {
			if err := s.types.Upsert(ctx, rt); err != nil {
				return err
			}
			res.ReportTypes++
			res.Fields += len(rt.Fields)
			res.Codes = append(res.Codes, rt.Code)
		}
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.tx.WithTx(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("seed catalog: %w", err)
	}

	s.logger.Info().Int("report_types", res.ReportTypes).Int("fields", res.Fields).Msg("catalog seeded")
	return res, types, nil
}

// SeedSamples creates count instances per report type and fills them with
// generated values: roughly a third stay pending, a third partially filled
// and a third complete.
func (s *Seeder) SeedSamples(ctx context.Context, w ReportWriter, types []*report.ReportType, count int, seed int64) (int, error) {
	gen := NewDataGenerator(seed)
	n := 0
	for _, rt := range types {
		if !rt.IsActive {
			continue
		}
		for i := 0; i < count; i++ {
			inst, err := w.CreateInstance(ctx, uuid.New(), rt.ID)
			if err != nil {
				return n, fmt.Errorf("create sample %s: %w", rt.Code, err)
			}
			fill := []float64{0, 0.5, 1}[i%3]
			if _, err := w.SaveReport(ctx, inst.ID, gen.Values(rt.Fields, fill), "sandbox"); err != nil {
				return n, fmt.Errorf("save sample %s: %w", rt.Code, err)
			}
			n++
		}
	}
	s.logger.Info().Int("samples", n).Msg("sample reports seeded")
	return n, nil
}

// DataGenerator produces reproducible field values for demo reports.
type DataGenerator struct {
	rng *rand.Rand
}

func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

// Values fills about fill*len(fields) active fields, required ones first,
// with values that pass validation. fill=1 fills every field.
func (g *DataGenerator) Values(fields []report.Field, fill float64) report.ValueMap {
	values := report.ValueMap{}
	if fill <= 0 {
		return values
	}

	var ordered []report.Field
	for _, f := range fields {
		if f.IsActive && f.IsRequired {
			ordered = append(ordered, f)
		}
	}
	for _, f := range fields {
		if f.IsActive && !f.IsRequired {
			ordered = append(ordered, f)
		}
	}

	want := int(fill*float64(len(ordered)) + 0.5)
	if fill < 1 && want >= len(ordered) && len(ordered) > 1 {
		want = len(ordered) - 1
	}
	if want == 0 {
		want = 1
	}
	for _, f := range ordered[:min(want, len(ordered))] {
		values[f.FieldName] = g.value(f)
	}
	return values
}

func (g *DataGenerator) value(f report.Field) report.Value {
	switch f.FieldType {
	case report.FieldNumber:
		return report.Number(g.number(f))
	case report.FieldBoolean:
		return report.Bool(g.rng.Intn(2) == 1)
	case report.FieldSelect:
		if len(f.Options) == 0 {
			return report.String("")
		}
		return report.String(f.Options[g.rng.Intn(len(f.Options))])
	case report.FieldDate:
		d := time.Now().UTC().AddDate(0, 0, -g.rng.Intn(30))
		return report.String(d.Format("2006-01-02"))
	default:
		return report.String(fmt.Sprintf("%s sample %d", f.Label, g.rng.Intn(1000)))
	}
}

// number picks a value around the reference range, rounded to one decimal
// and clamped to the field bounds.
func (g *DataGenerator) number(f report.Field) float64 {
	lo, hi := 0.0, 100.0
	if f.ReferenceLow != nil {
		lo = *f.ReferenceLow
	}
	if f.ReferenceHigh != nil {
		hi = *f.ReferenceHigh
	}
	if f.ReferenceLow != nil && f.ReferenceHigh == nil {
		hi = lo * 2
	}
	if f.ReferenceHigh != nil && f.ReferenceLow == nil {
		lo = hi / 2
	}
	span := hi - lo
	v := math.Round((lo-0.1*span+g.rng.Float64()*1.2*span)*10) / 10
	if f.MinValue != nil && v < *f.MinValue {
		v = *f.MinValue
	}
	if f.MaxValue != nil && v > *f.MaxValue {
		v = *f.MaxValue
	}
	return v
}
