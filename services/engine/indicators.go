package engine

// IndicatorNode describes one rolling series and how many bars it needs
// before its first defined value.
type IndicatorNode struct {
	Name   string
	Warmup int
}

type IndicatorDAG struct {
	Nodes []IndicatorNode
}

// SignalDAG lists the rolling series ComputeSignals produces. Breakout flags
// read the previous bar's level, hence the extra bar on the channel nodes.
func SignalDAG(params SignalParams) IndicatorDAG {
	p := params.withDefaults()
	return IndicatorDAG{Nodes: []IndicatorNode{
		{Name: "n", Warmup: p.ATRPeriod},
		{Name: "entry_short", Warmup: p.ShortPeriod + 1},
		{Name: "entry_long", Warmup: p.LongPeriod + 1},
		{Name: "exit_long", Warmup: p.ExitPeriod + 1},
	}}
}

func (d *IndicatorDAG) WarmupBars() int {
	max := 0
	for _, n := range d.Nodes {
		if n.Warmup > max {
			max = n.Warmup
		}
	}
	return max
}
