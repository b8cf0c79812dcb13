package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"turtle-backtest/services/clickhouse"
	"turtle-backtest/services/engine"
)

// maxMissingWeekdays is the largest hole tolerated before a gap is reported.
const maxMissingWeekdays = 3

// ValidationSuite runs acceptance tests on the ingested data
type ValidationSuite struct {
	store  *clickhouse.Store
	logger *zap.Logger
}

func NewValidationSuite(store *clickhouse.Store, logger *zap.Logger) *ValidationSuite {
	return &ValidationSuite{store: store, logger: logger}
}

// RunAllValidations executes the complete validation suite
func (v *ValidationSuite) RunAllValidations(ctx context.Context) error {
	fmt.Println("Running validation suite...")

	if err := v.TestInvariants(ctx); err != nil {
		return fmt.Errorf("invariant test failed: %w", err)
	}
	if err := v.TestSeries(ctx); err != nil {
		return fmt.Errorf("series test failed: %w", err)
	}

	fmt.Println("✅ All validations passed!")
	return nil
}

// TestInvariants runs the bar-level audit queries; any violation fails.
func (v *ValidationSuite) TestInvariants(ctx context.Context) error {
	fmt.Println("Testing invariants...")
	checks, err := v.store.Audit(ctx)
	if err != nil {
		return err
	}
	return checkAudit(checks)
}

func checkAudit(checks []clickhouse.AuditCheck) error {
	var bad []string
	for _, c := range checks {
		if c.Violations > 0 {
			bad = append(bad, fmt.Sprintf("%s=%d", c.Name, c.Violations))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("violations: %v", bad)
	}
	fmt.Println("✅ Invariant test passed")
	return nil
}

// TestSeries loads every instrument, applies the engine's input checks and
// reports date gaps. Gaps are warnings only.
func (v *ValidationSuite) TestSeries(ctx context.Context) error {
	fmt.Println("Testing series...")
	series, err := v.store.LoadSeries(ctx, nil, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	if err := engine.ValidateSeries(series); err != nil {
		return err
	}
	for _, inst := range series.Instruments() {
		for _, g := range engine.DetectGaps(inst, series[inst], maxMissingWeekdays) {
			v.logger.Warn("Data gap",
				zap.String("instrument", g.Instrument),
				zap.Time("after", g.After),
				zap.Time("before", g.Before),
				zap.Int("missing_weekdays", g.Weekdays))
		}
	}
	fmt.Printf("✅ Series test passed (%d instruments, %d bars)\n", len(series), series.BarCount())
	return nil
}
