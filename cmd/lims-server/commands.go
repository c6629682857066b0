package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lims/lims/internal/domain/report"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/sandbox"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a lab schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			lab, err := labFlag(cmd, cfg)
			if err != nil {
				return err
			}
			schema := db.SchemaName(lab)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)

			count, err := db.NewMigrator(pool, migrationsFS(cfg)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("lab", "", "Lab identifier (defaults to DEFAULT_LAB)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a lab schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			lab, err := labFlag(cmd, cfg)
			if err != nil {
				return err
			}
			schema := db.SchemaName(lab)
			statuses, err := db.NewMigrator(pool, migrationsFS(cfg)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("lab", "", "Lab identifier (defaults to DEFAULT_LAB)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func labCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lab",
		Short: "Manage laboratories",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lab schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidLabID(name) {
				return fmt.Errorf("invalid lab identifier: %q", name)
			}

			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating lab schema: %s\n", db.SchemaName(name))
			if err := db.CreateLabSchema(ctx, pool, name, migrationsFS(cfg)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Lab created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Lab identifier (letters, digits, underscore)")
	cmd.AddCommand(createCmd)

	return cmd
}

// loadCatalog reads the catalog at path, or the built-in demo catalog when
// path is empty.
func loadCatalog(path string) (*sandbox.Catalog, error) {
	if path == "" {
		return sandbox.Demo(), nil
	}
	return sandbox.LoadFile(path)
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage report type catalogs",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a catalog file without touching the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			c, err := loadCatalog(path)
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fields := 0
			for _, rt := range c.ReportTypes {
				fields += len(rt.Fields)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog OK: %d report type(s), %d field(s).\n", len(c.ReportTypes), fields)
			return nil
		},
	}
	validateCmd.Flags().String("file", "", "Catalog YAML file (defaults to the demo catalog)")
	cmd.AddCommand(validateCmd)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert a catalog into a lab, optionally with sample reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			samples, _ := cmd.Flags().GetInt("samples")
			seed, _ := cmd.Flags().GetInt64("seed")

			c, err := loadCatalog(path)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			lab, err := labFlag(cmd, cfg)
			if err != nil {
				return err
			}
			ctx, release, err := db.AcquireLab(ctx, pool, lab)
			if err != nil {
				return err
			}
			defer release()

			logger := newLogger(cfg.Env, cmd.ErrOrStderr())
			types := report.NewReportTypeRepoPG(pool)
			tx := db.NewTxManager(pool)

			seeder := sandbox.NewSeeder(types, tx, logger)
			res, seeded, err := seeder.Seed(ctx, c)
			if err != nil {
				return err
			}
			if samples > 0 {
				svc := report.NewService(types, report.NewInstanceRepoPG(pool), tx)
				svc.SetLogger(logger)
				n, err := seeder.SeedSamples(ctx, svc, seeded, samples, seed)
				if err != nil {
					return err
				}
				res.Samples = n
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	seedCmd.Flags().String("file", "", "Catalog YAML file (defaults to the demo catalog)")
	seedCmd.Flags().String("lab", "", "Lab identifier (defaults to DEFAULT_LAB)")
	seedCmd.Flags().Int("samples", 0, "Sample report instances to create per report type")
	seedCmd.Flags().Int64("seed", 1, "Random seed for sample values")
	cmd.AddCommand(seedCmd)

	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Maintain report instances",
	}

	recalcCmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recompute the status of every instance of a report type",
		RunE: func(cmd *cobra.Command, args []string) error {
			typeRef, _ := cmd.Flags().GetString("type")
			if typeRef == "" {
				return fmt.Errorf("--type is required")
			}

			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			lab, err := labFlag(cmd, cfg)
			if err != nil {
				return err
			}
			ctx, release, err := db.AcquireLab(ctx, pool, lab)
			if err != nil {
				return err
			}
			defer release()

			types := report.NewReportTypeRepoPG(pool)
			id, err := resolveReportType(ctx, types, typeRef)
			if err != nil {
				return err
			}

			svc := report.NewService(types, report.NewInstanceRepoPG(pool), db.NewTxManager(pool))
			svc.SetLogger(newLogger(cfg.Env, cmd.ErrOrStderr()))
			n, err := svc.Recalculate(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d report instance(s).\n", n)
			return nil
		},
	}
	recalcCmd.Flags().String("type", "", "Report type id or code")
	recalcCmd.Flags().String("lab", "", "Lab identifier (defaults to DEFAULT_LAB)")
	cmd.AddCommand(recalcCmd)

	return cmd
}

// resolveReportType accepts either a report type id or its code.
func resolveReportType(ctx context.Context, types report.ReportTypeRepository, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	rt, err := types.GetByCode(ctx, ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("report type %q: %w", ref, err)
	}
	return rt.ID, nil
}

// evalInput is the document read by "status eval".
type evalInput struct {
	Fields []report.Field  `json:"fields"`
	Values report.ValueMap `json:"values"`
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report status tools",
	}

	evalCmd := &cobra.Command{
		Use:   "eval [file]",
		Short: "Compute the status of a JSON document of fields and values",
		Long: `Reads {"fields": [...], "values": {...}} from the file, or stdin when
the file is "-" or omitted, and prints status, summary, reference flags and
validation errors. No configuration or database is needed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			ev, err := evaluate(in)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ev)
		},
	}
	cmd.AddCommand(evalCmd)

	return cmd
}

func evaluate(r io.Reader) (*report.Evaluation, error) {
	var doc evalInput
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return &report.Evaluation{
		Status:  report.CalculateStatus(doc.Fields, doc.Values),
		Summary: report.CompletionSummary(doc.Fields, doc.Values),
		Flags:   report.ReferenceFlags(doc.Fields, doc.Values),
		Errors:  report.ValidateValues(doc.Fields, doc.Values),
	}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
