package job

import eventemitter "github.com/vansante/go-event-emitter"

const (
	CreatedSnapshotEvent   eventemitter.EventType = "created-snapshot"
	SentSnapshotEvent      eventemitter.EventType = "sent-snapshot"
	PrunedSnapshotEvent    eventemitter.EventType = "pruned-snapshot"
	ReconciledDatasetEvent eventemitter.EventType = "reconciled-dataset"
	SkippedPairEvent       eventemitter.EventType = "skipped-pair"
	SkippedDatasetEvent    eventemitter.EventType = "skipped-dataset"
)
