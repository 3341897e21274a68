package usage

// Data is the root structure stored on disk.
type Data struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds counters broken down by provider, model and
// operation (generate, summarize).
type AggregatedStats struct {
	Total       TokenCounts            `json:"total"`
	ByProvider  map[string]TokenCounts `json:"by_provider"`
	ByModel     map[string]TokenCounts `json:"by_model"`
	ByOperation map[string]TokenCounts `json:"by_operation"`
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Calls  int64 `json:"calls"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

func (tc *TokenCounts) Add(input, output int) {
	tc.Calls++
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
}
