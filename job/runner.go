// Package job plans replication pairs and runs the per-dataset replication
// state machine.
package job

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	eventemitter "github.com/vansante/go-event-emitter"

	"github.com/tschettervictor/xync/config"
	"github.com/tschettervictor/xync/lock"
	"github.com/tschettervictor/xync/zfs"
)

// ZFS is the part of the zfs package the replication engine consumes.
type ZFS interface {
	DatasetExists(ctx context.Context, host zfs.Host, name string) (bool, error)
	ListDescendants(ctx context.Context, host zfs.Host, name string) ([]string, error)
	CreateParents(ctx context.Context, host zfs.Host, name string) error
	ListSnapshots(ctx context.Context, host zfs.Host, dataset, filter string) ([]zfs.Snapshot, error)
	CreateSnapshot(ctx context.Context, host zfs.Host, name string) error
	DestroySnapshot(ctx context.Context, host zfs.Host, name string) error
	Send(ctx context.Context, base, snap string, srcHost zfs.Host, dst string, dstHost zfs.Host) (int64, error)
}

// Runner replicates all configured pairs once, in order.
type Runner struct {
	*eventemitter.Emitter

	config  *config.Config
	zfs     ZFS
	exec    *zfs.Executor
	logger  *logrus.Entry
	lockDir string
}

// NewRunner creates a runner for one replication pass.
func NewRunner(conf *config.Config, manager ZFS, exec *zfs.Executor, logger *logrus.Entry) *Runner {
	return &Runner{
		Emitter: eventemitter.NewEmitter(false),
		config:  conf,
		zfs:     manager,
		exec:    exec,
		logger:  logger,
		lockDir: conf.LockDir,
	}
}

// Run processes every configured pair and returns the aggregated report.
// Pair and dataset failures are counted and skipped; only lock contention
// and cancellation abort the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now()}

	for _, spec := range r.config.Pairs() {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Pairs++

		if err := r.replicatePair(ctx, spec, report); err != nil {
			return report, err
		}
	}

	report.FinishedAt = time.Now()
	return report, nil
}

func isFatal(err error) bool {
	return errors.Is(err, lock.ErrHeld) || errors.Is(err, lock.ErrStale) || isContextError(err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (r *Runner) replicatePair(ctx context.Context, spec string, report *Report) error {
	logger := r.logger.WithField("pair", spec)

	pair, err := ParsePair(spec)
	if err != nil {
		r.skipPair(report, logger.WithError(err), spec, "Skipping malformed pair")
		return nil
	}

	if isRootDataset(pair.DstSet) && !r.config.AllowRootDatasets {
		r.skipPair(report, logger, spec,
			"Destination is a root dataset, set ALLOW_ROOT_DATASETS=1 to allow replicating into it")
		return nil
	}

	for _, host := range []zfs.Host{pair.SrcHost, pair.DstHost} {
		if !host.Remote() {
			continue
		}
		if err := r.checkHost(ctx, host); err != nil {
			r.skipPair(report, logger.WithError(err).WithField("host", host.String()),
				spec, "Host unreachable, skipping pair")
			return nil
		}
	}

	exists, err := r.zfs.DatasetExists(ctx, pair.SrcHost, pair.SrcSet)
	if err != nil {
		r.skipPair(report, logger.WithError(err), spec, "Cannot check source dataset, skipping pair")
		return nil
	}
	if !exists {
		r.skipPair(report, logger.WithField("dataset", pair.SrcSet), spec,
			"Source dataset does not exist, skipping pair")
		return nil
	}
	// A missing destination is materialized later; only a failing probe
	// disqualifies the pair.
	if _, err := r.zfs.DatasetExists(ctx, pair.DstHost, pair.DstSet); err != nil {
		r.skipPair(report, logger.WithError(err), spec, "Cannot check destination dataset, skipping pair")
		return nil
	}

	datasets := []string{pair.SrcSet}
	if r.config.RecurseChildren {
		datasets, err = r.zfs.ListDescendants(ctx, pair.SrcHost, pair.SrcSet)
		if err != nil {
			r.skipPair(report, logger.WithError(err), spec, "Cannot list descendants, skipping pair")
			return nil
		}
	}

	for _, dataset := range datasets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.Datasets++

		err := r.replicateDataset(ctx, pair, dataset)
		switch {
		case err == nil:
		case isFatal(err):
			return err
		default:
			// Already logged; one bad dataset never blocks the rest.
			report.DatasetsSkipped++
			r.EmitEvent(SkippedDatasetEvent, dataset, err)
		}
	}
	return nil
}

func (r *Runner) skipPair(report *Report, logger *logrus.Entry, spec, msg string) {
	logger.Warn("job.Runner.replicatePair: " + msg)
	report.PairsSkipped++
	r.EmitEvent(SkippedPairEvent, spec, msg)
}

// checkHost probes the host's liveness with the HOST_CHECK command template.
func (r *Runner) checkHost(ctx context.Context, host zfs.Host) error {
	tmpl := strings.TrimSpace(r.config.HostCheck)
	if tmpl == "" {
		return nil
	}
	fields := strings.Fields(strings.ReplaceAll(tmpl, "%HOST%", string(host)))

	_, err := r.exec.Run(ctx, zfs.Cmd{Name: fields[0], Args: fields[1:]})
	return err
}
