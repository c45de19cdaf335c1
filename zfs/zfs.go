package zfs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one entry of a dataset's snapshot inventory.
type Snapshot struct {
	Name     string // dataset@name
	Creation time.Time
}

// SnapshotName returns the part of the identifier after the @.
func (s Snapshot) SnapshotName() string {
	idx := strings.LastIndex(s.Name, "@")
	if idx < 0 {
		return s.Name
	}
	return s.Name[idx+1:]
}

// Manager inspects datasets and operates on snapshots through an Executor.
type Manager struct {
	SendOptions       []string
	RecvOptions       []string
	IncrementalOption string
	BytesPerSecond    int64

	exec *Executor
}

// NewManager returns a Manager with the default transfer options:
// properties are included in the stream, receives force a rollback and
// report verbosely, and incremental sends include intermediate snapshots.
func NewManager(exec *Executor) *Manager {
	return &Manager{
		SendOptions:       []string{"-p"},
		RecvOptions:       []string{"-F", "-v"},
		IncrementalOption: "-I",
		exec:              exec,
	}
}

// DatasetExists reports whether the named dataset exists on the host.
func (m *Manager) DatasetExists(ctx context.Context, host Host, name string) (bool, error) {
	_, err := m.exec.Run(ctx, Cmd{
		Host: host,
		Name: Binary,
		Args: []string{"list", "-H", "-o", "name", name},
	})
	switch {
	case errors.Is(err, ErrDatasetNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ListDescendants lists the named dataset followed by all of its
// descendant filesystems and volumes.
func (m *Manager) ListDescendants(ctx context.Context, host Host, name string) ([]string, error) {
	out, err := m.exec.Run(ctx, Cmd{
		Host: host,
		Name: Binary,
		Args: []string{"list", "-H", "-r", "-o", "name", "-t", "filesystem,volume", name},
	})
	if err != nil {
		return nil, err
	}

	datasets := make([]string, 0, len(out))
	for _, fields := range out {
		if len(fields) != 1 {
			return nil, fmt.Errorf("unexpected list output: %s", strings.Join(fields, " "))
		}
		datasets = append(datasets, fields[0])
	}
	return datasets, nil
}

// CreateParents creates the parent of the named dataset with intermediate
// parents, so a subsequent receive has a dataset to land in.
func (m *Manager) CreateParents(ctx context.Context, host Host, name string) error {
	parent, ok := parentOf(name)
	if !ok {
		// A pool root either exists or cannot be created here.
		return nil
	}

	_, err := m.exec.Run(ctx, Cmd{
		Host: host,
		Name: Binary,
		Args: []string{"create", "-p", parent},
	})
	if errors.Is(err, ErrDatasetExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error creating %s: %w", parent, err)
	}
	return nil
}

// parentOf returns the dataset path above name, if there is one.
func parentOf(name string) (string, bool) {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return "", false
	}
	return name[:idx], true
}

// ListSnapshots returns the dataset's snapshots sorted ascending by creation
// time. When filter is non-empty only snapshots whose full identifier
// contains it are returned.
func (m *Manager) ListSnapshots(ctx context.Context, host Host, dataset, filter string) ([]Snapshot, error) {
	out, err := m.exec.Run(ctx, Cmd{
		Host: host,
		Name: Binary,
		Args: []string{"list", "-Hp", "-t", "snapshot", "-o", "name,creation", "-s", "creation", "-d", "1", dataset},
	})
	if err != nil {
		return nil, err
	}

	return parseSnapshots(out, filter)
}

func parseSnapshots(out [][]string, filter string) ([]Snapshot, error) {
	snapshots := make([]Snapshot, 0, len(out))
	for _, fields := range out {
		if len(fields) != 2 {
			return nil, fmt.Errorf("unexpected snapshot list output: %s", strings.Join(fields, " "))
		}
		if filter != "" && !strings.Contains(fields[0], filter) {
			continue
		}
		creation, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing creation time of %s: %w", fields[0], err)
		}
		snapshots = append(snapshots, Snapshot{
			Name:     fields[0],
			Creation: time.Unix(creation, 0),
		})
	}
	return snapshots, nil
}

// CreateSnapshot creates the named snapshot. On failure any partial state is
// destroyed best-effort before the error is returned.
func (m *Manager) CreateSnapshot(ctx context.Context, host Host, name string) error {
	_, err := m.exec.Run(ctx, Cmd{
		Host: host,
		Name: Binary,
		Args: []string{"snapshot", name},
	})
	if err != nil {
		_, _ = m.exec.Run(ctx, Cmd{
			Host: host,
			Name: Binary,
			Args: []string{"destroy", name},
		})
		return fmt.Errorf("error creating snapshot %s: %w", name, err)
	}
	return nil
}

// DestroySnapshot destroys the named snapshot.
func (m *Manager) DestroySnapshot(ctx context.Context, host Host, name string) error {
	_, err := m.exec.Run(ctx, Cmd{
		Host: host,
		Name: Binary,
		Args: []string{"destroy", name},
	})
	if err != nil {
		return fmt.Errorf("error destroying snapshot %s: %w", name, err)
	}
	return nil
}

// Send replicates snap into dst, incrementally from base when base is
// non-empty and as a full stream otherwise. Sender and receiver each run on
// their own host; the stream crosses the pipe exactly once.
func (m *Manager) Send(ctx context.Context, base, snap string, srcHost Host, dst string, dstHost Host) (int64, error) {
	return m.exec.Pipe(ctx,
		Cmd{Host: srcHost, Name: Binary, Args: m.sendArgs(base, snap)},
		Cmd{Host: dstHost, Name: Binary, Args: m.recvArgs(dst)},
		m.BytesPerSecond,
	)
}

func (m *Manager) sendArgs(base, snap string) []string {
	args := append([]string{"send"}, m.SendOptions...)
	if base != "" {
		args = append(args, m.IncrementalOption, base)
	}
	return append(args, snap)
}

func (m *Manager) recvArgs(dst string) []string {
	args := append([]string{"receive"}, m.RecvOptions...)
	return append(args, dst)
}
