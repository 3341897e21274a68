package config

// LoopConfig configures the loop driver and per-cycle fan-out.
type LoopConfig struct {
	QueriesPerCycle int    `yaml:"queries_per_cycle" json:"queries_per_cycle"`
	ResultsPerQuery int    `yaml:"results_per_query" json:"results_per_query"`
	MaxCycles       int    `yaml:"max_cycles" json:"max_cycles"` // 0 = unbounded
	Workers         int    `yaml:"workers" json:"workers"`
	IdleInterval    string `yaml:"idle_interval" json:"idle_interval"`
	BackoffFloor    string `yaml:"backoff_floor" json:"backoff_floor"`
	BackoffCeiling  string `yaml:"backoff_ceiling" json:"backoff_ceiling"`
	ReflectOnEmpty  bool   `yaml:"reflect_on_empty" json:"reflect_on_empty"`
}

// NoveltyConfig configures the novelty filter.
type NoveltyConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	K         int     `yaml:"k" json:"k"`
}

// SplitterConfig selects and tunes the passage splitting strategy.
type SplitterConfig struct {
	Strategy     string `yaml:"strategy" json:"strategy"` // greedy or window
	MinChunkLen  int    `yaml:"min_chunk_len" json:"min_chunk_len"`
	MaxChunkLen  int    `yaml:"max_chunk_len" json:"max_chunk_len"`
	WindowWords  int    `yaml:"window_words" json:"window_words"`
	OverlapWords int    `yaml:"overlap_words" json:"overlap_words"`
	MinWords     int    `yaml:"min_words" json:"min_words"`
}

// SynthesisConfig tunes insight synthesis.
type SynthesisConfig struct {
	MaxInputs           int     `yaml:"max_inputs" json:"max_inputs"`
	InputChars          int     `yaml:"input_chars" json:"input_chars"`
	SummaryWords        int     `yaml:"summary_words" json:"summary_words"`
	SummaryChars        int     `yaml:"summary_chars" json:"summary_chars"`
	MaxSources          int     `yaml:"max_sources" json:"max_sources"`
	ConfidenceBase      float64 `yaml:"confidence_base" json:"confidence_base"`
	ConfidenceIncrement float64 `yaml:"confidence_increment" json:"confidence_increment"`
	ConfidenceCeiling   float64 `yaml:"confidence_ceiling" json:"confidence_ceiling"`
}

// CheckpointConfig locates the checkpoint and stop sentinel files.
type CheckpointConfig struct {
	Path     string `yaml:"path" json:"path"`
	StopFile string `yaml:"stop_file" json:"stop_file"`
}
