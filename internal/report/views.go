package report

// Views is everything a surface renders for one state. The three parts are
// computed from the same batch and filter in a single call so they never
// disagree.
type Views struct {
	Metrics []string        `json:"metrics"`
	Rows    []Row           `json:"rows"`
	Summary []MetricSummary `json:"summary"`
}

// Compute derives all views for batch under filter and sort.
func (e *Engine) Compute(batch Batch, filter FilterState, sort SortState) Views {
	metrics := batch.Metrics
	if metrics == nil {
		metrics = []string{}
	}
	summary := e.ComputeSummary(batch.Results, filter)
	return Views{
		Metrics: metrics,
		Rows:    e.ComputeRows(batch.Results, filter, sort),
		Summary: SummaryRows(summary, metrics, filter),
	}
}
