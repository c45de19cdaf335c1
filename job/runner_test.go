package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	eventemitter "github.com/vansante/go-event-emitter"
)

func TestRunner_malformedPairIsSkipped(t *testing.T) {
	fake := newFakeZFS()
	fake.addDataset("", "p1/a")
	fake.addDataset("", "p2/backups")

	runner := testRunner(t, testConfig("T1", "nocolon p1/a:p2/backups"), fake)

	var skipped []string
	runner.AddListener(SkippedPairEvent, func(args ...interface{}) {
		skipped = append(skipped, args[0].(string))
	})

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.Pairs)
	require.Equal(t, 1, report.PairsSkipped)
	require.Equal(t, []string{"nocolon"}, skipped)

	// The healthy pair still replicated.
	require.Equal(t, 1, report.Datasets)
	require.Len(t, fake.sends, 1)
}

func TestRunner_missingSourceIsSkipped(t *testing.T) {
	fake := newFakeZFS()
	fake.addDataset("", "p2/backups")

	runner := testRunner(t, testConfig("T1", "p1/gone:p2/backups"), fake)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.PairsSkipped)
	require.Zero(t, report.Datasets)
	require.Empty(t, fake.sends)
}

func TestRunner_canceledContextAbortsRun(t *testing.T) {
	fake := newFakeZFS()
	fake.addDataset("", "p1/a")
	fake.addDataset("", "p2/backups")

	runner := testRunner(t, testConfig("T1", "p1/a:p2/backups"), fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, fake.sends)
}

func TestRunner_emitsLifecycleEvents(t *testing.T) {
	fake := newFakeZFS()
	fake.addDataset("", "p1/a")
	fake.addDataset("", "p2/backups")

	runner := testRunner(t, testConfig("T1", "p1/a:p2/backups"), fake)

	events := make(map[eventemitter.EventType]int)
	for _, event := range []eventemitter.EventType{CreatedSnapshotEvent, SentSnapshotEvent} {
		event := event
		runner.AddListener(event, func(...interface{}) {
			events[event]++
		})
	}

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, events[CreatedSnapshotEvent])
	require.Equal(t, 1, events[SentSnapshotEvent])
}
