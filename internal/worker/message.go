package worker

// Message types on the worker's stdout line protocol.
const (
	TypeProgress = "progress"
	TypeResult   = "result"
)

// Spec is the job description the orchestrator writes to the worker's
// stdin, one JSON document, then closes the pipe.
type Spec struct {
	JobID      string `json:"job_id"`
	URL        string `json:"url"`
	FormatSpec string `json:"format_spec,omitempty"`
	OutputDir  string `json:"output_dir"`
	YTDLPPath  string `json:"ytdlp_path"`
}

// Envelope is one newline-delimited JSON message from worker to
// orchestrator. Progress messages carry percent/speed/eta; the single
// result message carries the outcome.
type Envelope struct {
	Type       string  `json:"type"`
	JobID      string  `json:"job_id"`
	Percent    float64 `json:"percent,omitempty"`
	Speed      string  `json:"speed,omitempty"`
	ETASeconds int     `json:"eta_seconds,omitempty"`
	Title      string  `json:"title,omitempty"`
	OK         bool    `json:"ok,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
	Error      string  `json:"error,omitempty"`
}
