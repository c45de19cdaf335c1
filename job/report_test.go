package job

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportSummary(t *testing.T) {
	report := &Report{Pairs: 2, Datasets: 5}
	require.Equal(t, "SUCCESS", report.Status())
	require.Equal(t, "SUCCESS: total sets=2 skipped=0 total datasets=5 skipped=0", report.Summary())

	report.DatasetsSkipped = 1
	require.Equal(t, "WARNING", report.Status())
	require.Equal(t, "WARNING: total sets=2 skipped=0 total datasets=5 skipped=1", report.Summary())

	report.PairsSkipped = 1
	require.Equal(t, "WARNING", report.Status())

	require.Equal(t,
		"ERROR: operation exited unexpectedly: total sets=2 skipped=1 total datasets=5 skipped=1",
		report.SummaryStatus("ERROR: operation exited unexpectedly"))
}
