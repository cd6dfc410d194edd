package runpipeline

// Output is written back to the process as job variables. DelayHints lets
// the process space its next trigger per fact type.
type Output struct {
	RunID        string         `json:"runId"`
	RunOutcome   string         `json:"runOutcome"`
	FactsLoaded  int            `json:"factsLoaded"`
	FactsGated   int            `json:"factsGated"`
	FactsSkipped int            `json:"factsSkipped"`
	FactsMarked  int            `json:"factsMarked"`
	Groups       int            `json:"groups"`
	Sent         int            `json:"sent"`
	Failed       int            `json:"failed"`
	DelayHints   map[string]int `json:"delayHints"`
}
