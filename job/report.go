package job

import (
	"fmt"
	"time"
)

// Report aggregates the counters of one replication run.
type Report struct {
	Pairs           int `json:"Pairs"`
	PairsSkipped    int `json:"PairsSkipped"`
	Datasets        int `json:"Datasets"`
	DatasetsSkipped int `json:"DatasetsSkipped"`

	StartedAt  time.Time `json:"StartedAt"`
	FinishedAt time.Time `json:"FinishedAt"`
}

// Status is SUCCESS when nothing was skipped and WARNING otherwise.
func (r *Report) Status() string {
	if r.PairsSkipped > 0 || r.DatasetsSkipped > 0 {
		return "WARNING"
	}
	return "SUCCESS"
}

// Summary renders the status line emitted at the end of a run.
func (r *Report) Summary() string {
	return r.SummaryStatus(r.Status())
}

// SummaryStatus renders the status line with an explicit status, used when
// the run ends abnormally.
func (r *Report) SummaryStatus(status string) string {
	return fmt.Sprintf("%s: total sets=%d skipped=%d total datasets=%d skipped=%d",
		status, r.Pairs, r.PairsSkipped, r.Datasets, r.DatasetsSkipped)
}
