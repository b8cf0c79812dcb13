package engine

// Config and input series validation

// ValidateConfig rejects parameters that make a run meaningless. It runs on
// the raw config, before defaults are applied.
func ValidateConfig(c Config) error {
	if c.AccountSize.Sign() <= 0 {
		return inputErr(CodeInvalidParams, "", "account size must be positive, got %s", c.AccountSize)
	}
	if c.RiskPercent.Sign() <= 0 {
		return inputErr(CodeInvalidParams, "", "risk percent must be positive, got %s", c.RiskPercent)
	}
	if c.RiskPercent.GreaterThan(hundred) {
		return inputErr(CodeInvalidParams, "", "risk percent must not exceed 100, got %s", c.RiskPercent)
	}
	s := c.Signals
	if s.ShortPeriod < 0 || s.LongPeriod < 0 || s.ExitPeriod < 0 || s.ATRPeriod < 0 {
		return inputErr(CodeInvalidParams, "", "lookback periods must not be negative")
	}
	if c.MaxPyramids < 0 {
		return inputErr(CodeInvalidParams, "", "max pyramids must be at least 1, got %d", c.MaxPyramids)
	}
	switch c.EntrySystem {
	case "", SystemShort, SystemLong:
	default:
		return inputErr(CodeUnknownSystem, "", "unknown entry system %q", c.EntrySystem)
	}
	for inst, spec := range c.Instruments {
		if spec.Multiplier.Sign() < 0 {
			return inputErr(CodeInvalidParams, inst, "multiplier must be positive, got %s", spec.Multiplier)
		}
		for _, m := range spec.ExpirationMonths {
			if m < 1 || m > 12 {
				return inputErr(CodeInvalidParams, inst, "expiration month %d out of range", m)
			}
		}
	}
	return nil
}

// ValidateSeries checks every instrument's bars: non-empty, strictly
// increasing days, non-negative prices and volume, low <= high.
func ValidateSeries(series Series) error {
	if len(series) == 0 {
		return inputErr(CodeEmptySeries, "", "no instruments supplied")
	}
	for _, inst := range series.Instruments() {
		bars := series[inst]
		if len(bars) == 0 {
			return inputErr(CodeEmptySeries, inst, "no bars")
		}
		for i, b := range bars {
			if b.Date.IsZero() {
				return inputErr(CodeMalformedBar, inst, "bar %d has no date", i)
			}
			if b.Open.Sign() < 0 || b.High.Sign() < 0 || b.Low.Sign() < 0 || b.Close.Sign() < 0 || b.Volume.Sign() < 0 {
				return inputErr(CodeMalformedBar, inst, "negative value on %s", b.Date.Format("2006-01-02"))
			}
			if b.Low.GreaterThan(b.High) {
				return inputErr(CodeMalformedBar, inst, "low above high on %s", b.Date.Format("2006-01-02"))
			}
			if i > 0 && !Day(b.Date).After(Day(bars[i-1].Date)) {
				return inputErr(CodeNonMonotonic, inst, "%s does not follow %s",
					b.Date.Format("2006-01-02"), bars[i-1].Date.Format("2006-01-02"))
			}
		}
	}
	return nil
}
