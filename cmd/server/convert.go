package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	pb "turtle-backtest/proto"
	"turtle-backtest/services/csvfeed"
	"turtle-backtest/services/engine"
)

const dateLayout = "2006-01-02"

// applyOverrides layers request parameters over the service defaults.
func applyOverrides(base engine.Config, o *pb.RunOverrides) (engine.Config, error) {
	cfg := base
	if o == nil {
		return cfg, nil
	}
	if o.AccountSize != "" {
		v, err := decimal.NewFromString(o.AccountSize)
		if err != nil {
			return cfg, badParam("account_size", err)
		}
		cfg.AccountSize = v
	}
	if o.RiskPercent != "" {
		v, err := decimal.NewFromString(o.RiskPercent)
		if err != nil {
			return cfg, badParam("risk_percent", err)
		}
		cfg.RiskPercent = v
	}
	if o.ShortPeriod != 0 {
		cfg.Signals.ShortPeriod = int(o.ShortPeriod)
	}
	if o.LongPeriod != 0 {
		cfg.Signals.LongPeriod = int(o.LongPeriod)
	}
	if o.ExitPeriod != 0 {
		cfg.Signals.ExitPeriod = int(o.ExitPeriod)
	}
	if o.AtrPeriod != 0 {
		cfg.Signals.ATRPeriod = int(o.AtrPeriod)
	}
	if o.EntrySystem != "" {
		cfg.EntrySystem = engine.EntrySystem(o.EntrySystem)
	}
	if o.MaxPyramids != 0 {
		cfg.MaxPyramids = int(o.MaxPyramids)
	}
	if len(o.Multipliers) > 0 {
		specs := make(map[string]engine.InstrumentSpec, len(cfg.Instruments)+len(o.Multipliers))
		for k, v := range cfg.Instruments {
			specs[k] = v
		}
		for inst, m := range o.Multipliers {
			v, err := decimal.NewFromString(m)
			if err != nil {
				return cfg, badParam("multipliers."+inst, err)
			}
			spec := specs[inst]
			spec.Multiplier = v
			specs[inst] = spec
		}
		cfg.Instruments = specs
	}
	return cfg, engine.ValidateConfig(cfg)
}

func badParam(field string, err error) error {
	return &engine.InputError{Code: engine.CodeInvalidParams, Msg: fmt.Sprintf("%s: %v", field, err)}
}

func seriesFromProto(in map[string][]*pb.Bar) (engine.Series, error) {
	series := make(engine.Series, len(in))
	for inst, bars := range in {
		out := make([]engine.Bar, 0, len(bars))
		for i, b := range bars {
			bar, err := barFromProto(b)
			if err != nil {
				return nil, &engine.InputError{Code: engine.CodeMalformedBar, Instrument: inst, Msg: fmt.Sprintf("bar %d: %v", i, err)}
			}
			out = append(out, bar)
		}
		series[inst] = out
	}
	return series, nil
}

func barFromProto(b *pb.Bar) (engine.Bar, error) {
	var bar engine.Bar
	if b == nil {
		return bar, fmt.Errorf("nil bar")
	}
	d, err := csvfeed.ParseDate(b.Date)
	if err != nil {
		return bar, err
	}
	bar.Date = d
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{{b.Open, &bar.Open}, {b.High, &bar.High}, {b.Low, &bar.Low}, {b.Close, &bar.Close}, {b.Volume, &bar.Volume}}
	for i, f := range fields {
		if f.raw == "" && i == len(fields)-1 {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return bar, err
		}
		*f.dst = v
	}
	return bar, nil
}

func rollsFromProto(in []*pb.RollEvent) ([]engine.RollEvent, error) {
	out := make([]engine.RollEvent, 0, len(in))
	for _, r := range in {
		d, err := csvfeed.ParseDate(r.Date)
		if err != nil {
			return nil, badParam("rolls.date", err)
		}
		px, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, badParam("rolls.price", err)
		}
		out = append(out, engine.RollEvent{Instrument: r.Instrument, Date: d, Price: px, ContractMonth: int(r.ContractMonth)})
	}
	return out, nil
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var err error
	if from != "" {
		if f, err = time.Parse(dateLayout, from); err != nil {
			return f, t, badParam("from", err)
		}
	}
	if to != "" {
		if t, err = time.Parse(dateLayout, to); err != nil {
			return f, t, badParam("to", err)
		}
	}
	return f, t, nil
}

func convertToGrpcResponse(res *engine.Result, elapsed time.Duration, cached, includeEvents bool) *pb.BacktestResponse {
	resp := &pb.BacktestResponse{
		JobId:           res.RunID,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Cached:          cached,
		Summary:         convertSummary(res.Summary),
		Trades:          make([]*pb.Trade, len(res.Trades)),
		EquityCurve:     make([]*pb.EquityPoint, len(res.EquityCurve)),
		PerInstrument:   make([]*pb.InstrumentStats, len(res.PerInstrument)),
		RollsApplied:    int32(len(res.Rolls)),
		DataGaps:        int32(len(res.Gaps)),
		FinalRisk:       convertRisk(res.FinalRisk),
		Manifest:        convertManifest(res.Manifest),
	}
	for i, t := range res.Trades {
		resp.Trades[i] = &pb.Trade{
			PositionId: t.PositionID,
			Instrument: t.Instrument,
			Side:       t.Side.String(),
			EntryDate:  t.EntryDate.Format(dateLayout),
			EntryPrice: t.EntryPrice.String(),
			ExitDate:   t.ExitDate.Format(dateLayout),
			ExitPrice:  t.ExitPrice.String(),
			Units:      t.Units,
			Pyramids:   int32(t.Pyramids),
			Pnl:        t.PnL.String(),
			PnlPct:     t.PnLPct.StringFixed(4),
			ExitReason: string(t.ExitReason),
			DaysHeld:   int32(t.DaysHeld),
		}
	}
	for i, p := range res.EquityCurve {
		resp.EquityCurve[i] = &pb.EquityPoint{
			Date:     p.Date.Format(dateLayout),
			Equity:   p.Equity.String(),
			OpenPnl:  p.OpenPnL.String(),
			OpenRisk: p.OpenRisk.String(),
		}
	}
	for i, s := range res.PerInstrument {
		resp.PerInstrument[i] = &pb.InstrumentStats{
			Instrument:     s.Instrument,
			TotalTrades:    int32(s.TotalTrades),
			WinningTrades:  int32(s.WinningTrades),
			LosingTrades:   int32(s.LosingTrades),
			GrossPnl:       s.GrossPnL.String(),
			AvgPnlPerTrade: s.AvgPnLPerTrade.StringFixed(2),
		}
	}
	if includeEvents {
		for _, e := range res.Events {
			resp.Events = append(resp.Events, &pb.Event{
				Date:       e.Date.Format(dateLayout),
				Type:       e.Type.String(),
				Instrument: e.Instrument,
				PositionId: e.PositionID,
				Details:    e.Details,
			})
		}
	}
	return resp
}

func convertSummary(s engine.Summary) *pb.Summary {
	reasons := make(map[string]int32, len(s.ExitReasons))
	for k, v := range s.ExitReasons {
		reasons[string(k)] = int32(v)
	}
	return &pb.Summary{
		TotalTrades:    int32(s.TotalTrades),
		WinningTrades:  int32(s.WinningTrades),
		LosingTrades:   int32(s.LosingTrades),
		WinRatePct:     s.WinRate.StringFixed(2),
		GrossPnl:       s.GrossPnL.String(),
		AvgPnlPerTrade: s.AvgPnLPerTrade.StringFixed(2),
		ProfitFactor:   s.ProfitFactor.StringFixed(2),
		BestTrade:      s.BestTrade.String(),
		WorstTrade:     s.WorstTrade.String(),
		AvgDaysHeld:    s.AvgDaysHeld.StringFixed(1),
		FinalEquity:    s.FinalEquity.String(),
		TotalReturnPct: s.TotalReturnPct.StringFixed(2),
		MaxDrawdownPct: s.MaxDrawdownPct.StringFixed(2),
		ExitReasons:    reasons,
	}
}

func convertManifest(m *engine.RunManifest) *pb.RunManifest {
	if m == nil {
		return nil
	}
	out := &pb.RunManifest{
		JobId:        m.JobID,
		RollChecksum: m.RollChecksum,
		Instruments:  m.Instruments,
		FirstDate:    m.FirstDate.Format(dateLayout),
		LastDate:     m.LastDate.Format(dateLayout),
		WarmupBars:   int32(m.WarmupBars),
		RollEvents:   int32(m.RollEvents),
		CreatedAt:    m.CreatedAt.UnixMilli(),
	}
	if m.ConfigSnapshot != nil {
		out.EngineVersion = m.ConfigSnapshot.EngineVersion
		out.ConfigHash = m.ConfigSnapshot.ConfigHash
		out.DataChecksum = m.ConfigSnapshot.DataChecksum
	}
	return out
}

func convertRisk(risk engine.RiskReport) *pb.RiskReport {
	return &pb.RiskReport{
		NumPositions:     int32(risk.NumPositions),
		TotalNotional:    risk.TotalNotional.String(),
		TotalRiskDollars: risk.TotalRiskDollars.String(),
		PctAccountAtRisk: risk.PctAccountAtRisk.StringFixed(2),
		Leverage:         risk.Leverage.StringFixed(2),
	}
}

func convertScan(rows []engine.ScanRow, risk engine.RiskReport) *pb.ScanResponse {
	resp := &pb.ScanResponse{
		Rows: make([]*pb.ScanRow, 0, len(rows)),
		Risk: convertRisk(risk),
	}
	for _, r := range rows {
		row := &pb.ScanRow{
			Instrument: r.Instrument,
			Date:       r.Date.Format(dateLayout),
			Close:      r.Close.String(),
			EntryShort: r.EntryShort,
			EntryLong:  r.EntryLong,
			ExitLong:   r.ExitLong,
			SkipReason: r.SkipReason,
		}
		if r.N.Valid {
			row.N = r.N.Decimal.StringFixed(4)
		}
		if r.Sizing != nil {
			row.Units = r.Sizing.Units
			row.StopPrice = r.Sizing.StopPrice.String()
			row.Notional = r.Sizing.Notional.String()
			row.RiskDollars = r.Sizing.RiskDollars.String()
		}
		resp.Rows = append(resp.Rows, row)
	}
	sort.SliceStable(resp.Rows, func(i, j int) bool { return resp.Rows[i].Instrument < resp.Rows[j].Instrument })
	return resp
}
