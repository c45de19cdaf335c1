package job

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tschettervictor/xync/lock"
	"github.com/tschettervictor/xync/zfs"
)

// errNoCommonBase marks a destination holding snapshots unrelated to any
// source snapshot while reconciliation is not allowed.
var errNoCommonBase = errors.New("destination snapshots have no common base")

// replicateDataset runs the replication state machine for a single dataset:
// materialize the destination parent, collect both snapshot inventories,
// pick the incremental base, prune, snapshot, send. An error return means
// the dataset is skipped; lock errors abort the whole run.
func (r *Runner) replicateDataset(ctx context.Context, pair Pair, src string) error {
	dst := pair.DestinationFor(src)
	newSnap := src + "@" + r.config.SnapshotName()

	logger := r.logger.WithFields(logrus.Fields{
		"dataset":     src,
		"srcHost":     pair.SrcHost.String(),
		"destination": dst,
		"dstHost":     pair.DstHost.String(),
	})

	exists, err := r.zfs.DatasetExists(ctx, pair.DstHost, dst)
	if err != nil {
		logger.WithError(err).Error("job.Runner.replicateDataset: Error checking destination dataset")
		return err
	}
	if !exists {
		if err := r.zfs.CreateParents(ctx, pair.DstHost, dst); err != nil {
			logger.WithError(err).Error("job.Runner.replicateDataset: Error creating destination parents")
			return err
		}
	}

	srcSnaps, err := r.zfs.ListSnapshots(ctx, pair.SrcHost, src, r.config.SnapPattern)
	if err != nil {
		logger.WithError(err).Error("job.Runner.replicateDataset: Error listing source snapshots")
		return err
	}
	// The destination inventory is fetched unfiltered: snapshots outside the
	// managed prefix still block an unanchored send and must be visible to
	// reconciliation. Pruning below only ever touches the managed subset.
	dstSnaps, err := r.listDestinationSnapshots(ctx, pair.DstHost, dst)
	if err != nil {
		logger.WithError(err).Error("job.Runner.replicateDataset: Error listing destination snapshots")
		return err
	}

	// A leftover snapshot with this run's name is recreated, which keeps
	// retries within the same tag idempotent.
	srcSnaps, err = r.destroyColliding(ctx, pair.SrcHost, srcSnaps, newSnap, logger)
	if err != nil {
		return err
	}

	base := findBase(srcSnaps, dstSnaps)

	if base == "" && len(dstSnaps) > 0 {
		if !r.config.AllowReconciliation {
			logger.Warn("job.Runner.replicateDataset: Destination has snapshots but no common base, " +
				"set ALLOW_RECONCILIATION=1 to overwrite them")
			return errNoCommonBase
		}
		r.reconcileDestination(ctx, pair.DstHost, dst, dstSnaps, logger)
		dstSnaps = nil
	}

	r.pruneSnapshots(ctx, pair.SrcHost, srcSnaps, logger)
	r.pruneSnapshots(ctx, pair.DstHost, filterManaged(dstSnaps, r.config.SnapPattern), logger)

	if err := r.zfs.CreateSnapshot(ctx, pair.SrcHost, newSnap); err != nil {
		logger.WithError(err).Error("job.Runner.replicateDataset: Error creating snapshot")
		return err
	}
	logger.WithField("snapshot", newSnap).Info("job.Runner.replicateDataset: Snapshot created")
	r.EmitEvent(CreatedSnapshotEvent, newSnap)

	sendLock, err := lock.Acquire(r.lockDir, "send")
	if err != nil {
		logger.WithError(err).Error("job.Runner.replicateDataset: Cannot acquire send lock")
		r.rollbackSnapshot(ctx, pair.SrcHost, newSnap, logger)
		return err
	}

	bytes, sendErr := r.zfs.Send(ctx, base, newSnap, pair.SrcHost, dst, pair.DstHost)
	if err := sendLock.Release(); err != nil {
		logger.WithError(err).Error("job.Runner.replicateDataset: Error releasing send lock")
	}
	if sendErr != nil {
		logger.WithError(sendErr).Error("job.Runner.replicateDataset: Error sending snapshot")
		r.rollbackSnapshot(ctx, pair.SrcHost, newSnap, logger)
		return sendErr
	}

	logger.WithFields(logrus.Fields{
		"snapshot": newSnap,
		"base":     base,
		"bytes":    bytes,
	}).Info("job.Runner.replicateDataset: Snapshot sent")
	r.EmitEvent(SentSnapshotEvent, newSnap, dst, bytes)

	return nil
}

// listDestinationSnapshots treats a missing destination dataset as an empty
// inventory.
func (r *Runner) listDestinationSnapshots(ctx context.Context, host zfs.Host, dst string) ([]zfs.Snapshot, error) {
	snaps, err := r.zfs.ListSnapshots(ctx, host, dst, "")
	if errors.Is(err, zfs.ErrDatasetNotFound) {
		return nil, nil
	}
	return snaps, err
}

func filterManaged(snaps []zfs.Snapshot, pattern string) []zfs.Snapshot {
	managed := make([]zfs.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if strings.Contains(snap.Name, pattern) {
			managed = append(managed, snap)
		}
	}
	return managed
}

func (r *Runner) destroyColliding(ctx context.Context, host zfs.Host, snaps []zfs.Snapshot, name string, logger *logrus.Entry) ([]zfs.Snapshot, error) {
	remaining := snaps[:0]
	for _, snap := range snaps {
		if snap.Name != name {
			remaining = append(remaining, snap)
			continue
		}
		logger.WithField("snapshot", snap.Name).Info("job.Runner.replicateDataset: Destroying colliding snapshot")
		if err := r.zfs.DestroySnapshot(ctx, host, snap.Name); err != nil {
			logger.WithError(err).Error("job.Runner.replicateDataset: Error destroying colliding snapshot")
			return nil, err
		}
	}
	return remaining, nil
}

// reconcileDestination clears the destination's entire snapshot inventory,
// unmanaged snapshots included. This is the only path that destroys
// snapshots outside the managed prefix, and it only runs with
// ALLOW_RECONCILIATION=1.
func (r *Runner) reconcileDestination(ctx context.Context, host zfs.Host, dst string, all []zfs.Snapshot, logger *logrus.Entry) {
	logger.WithField("snapshots", len(all)).Info("job.Runner.reconcileDestination: Reconciling destination")
	for _, snap := range all {
		if err := r.zfs.DestroySnapshot(ctx, host, snap.Name); err != nil {
			logger.WithError(err).WithField("snapshot", snap.Name).
				Error("job.Runner.reconcileDestination: Error destroying snapshot")
		}
	}
	r.EmitEvent(ReconciledDatasetEvent, dst, len(all))
}

// pruneSnapshots retires the oldest managed snapshots so the side ends the
// run with at most SNAP_KEEP of them, the incoming snapshot included.
// Destroy failures are logged and never fatal.
func (r *Runner) pruneSnapshots(ctx context.Context, host zfs.Host, snaps []zfs.Snapshot, logger *logrus.Entry) {
	keep := r.config.SnapKeep
	if len(snaps) < keep {
		return
	}
	for _, snap := range snaps[:len(snaps)-keep+1] {
		if err := r.zfs.DestroySnapshot(ctx, host, snap.Name); err != nil {
			logger.WithError(err).WithField("snapshot", snap.Name).
				Error("job.Runner.pruneSnapshots: Error destroying old snapshot")
			continue
		}
		logger.WithField("snapshot", snap.Name).Info("job.Runner.pruneSnapshots: Old snapshot destroyed")
		r.EmitEvent(PrunedSnapshotEvent, snap.Name)
	}
}

// rollbackSnapshot removes the snapshot created for a send that failed, so
// the base invariant holds for the next run.
func (r *Runner) rollbackSnapshot(ctx context.Context, host zfs.Host, name string, logger *logrus.Entry) {
	if err := r.zfs.DestroySnapshot(ctx, host, name); err != nil {
		logger.WithError(err).WithField("snapshot", name).
			Error("job.Runner.rollbackSnapshot: Error destroying snapshot")
		return
	}
	logger.WithField("snapshot", name).Info("job.Runner.rollbackSnapshot: Snapshot rolled back")
}

// findBase selects the most recent source snapshot whose name also exists in
// the destination inventory.
func findBase(src, dst []zfs.Snapshot) string {
	for i := len(src) - 1; i >= 0; i-- {
		name := src[i].SnapshotName()
		for _, d := range dst {
			if d.SnapshotName() == name {
				return src[i].Name
			}
		}
	}
	return ""
}
