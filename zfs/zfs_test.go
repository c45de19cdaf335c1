package zfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(testExecutor())
}

func TestSnapshotName(t *testing.T) {
	require.Equal(t, "autorep-T1", Snapshot{Name: "p1/a@autorep-T1"}.SnapshotName())
	require.Equal(t, "p1/a", Snapshot{Name: "p1/a"}.SnapshotName())
}

func TestParentOf(t *testing.T) {
	parent, ok := parentOf("p1/a/b")
	require.True(t, ok)
	require.Equal(t, "p1/a", parent)

	_, ok = parentOf("p1")
	require.False(t, ok)
}

func TestManagerSendArgs(t *testing.T) {
	m := testManager()

	require.Equal(t,
		[]string{"send", "-p", "p1/a@autorep-T2"},
		m.sendArgs("", "p1/a@autorep-T2"),
	)
	require.Equal(t,
		[]string{"send", "-p", "-I", "p1/a@autorep-T1", "p1/a@autorep-T2"},
		m.sendArgs("p1/a@autorep-T1", "p1/a@autorep-T2"),
	)

	m.IncrementalOption = "-i"
	m.SendOptions = nil
	require.Equal(t,
		[]string{"send", "-i", "p1/a@autorep-T1", "p1/a@autorep-T2"},
		m.sendArgs("p1/a@autorep-T1", "p1/a@autorep-T2"),
	)
}

func TestManagerRecvArgs(t *testing.T) {
	m := testManager()
	require.Equal(t, []string{"receive", "-F", "-v", "p2/p1/a"}, m.recvArgs("p2/p1/a"))

	m.RecvOptions = []string{"-u"}
	require.Equal(t, []string{"receive", "-u", "p2/p1/a"}, m.recvArgs("p2/p1/a"))
}

func TestParseSnapshots(t *testing.T) {
	out := [][]string{
		{"p1/a@autorep-T1", "1700000100"},
		{"p1/a@manual-X", "1700000200"},
		{"p1/a@autorep-T2", "1700000300"},
	}

	snaps, err := parseSnapshots(out, "")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	require.Equal(t, "p1/a@autorep-T1", snaps[0].Name)
	require.Equal(t, time.Unix(1700000100, 0), snaps[0].Creation)

	snaps, err = parseSnapshots(out, "@autorep-")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "p1/a@autorep-T2", snaps[1].Name)

	_, err = parseSnapshots([][]string{{"p1/a@autorep-T1"}}, "")
	require.Error(t, err)

	_, err = parseSnapshots([][]string{{"p1/a@autorep-T1", "notanumber"}}, "")
	require.Error(t, err)
}
