package job

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tschettervictor/xync/zfs"
)

func TestParsePair(t *testing.T) {
	tests := []struct {
		spec    string
		want    Pair
		wantErr bool
	}{
		{
			spec: "p1/a:p2/backups",
			want: Pair{SrcSet: "p1/a", DstSet: "p2/backups"},
		},
		{
			spec: "p1/a:p2/backups@h",
			want: Pair{SrcSet: "p1/a", DstSet: "p2/backups", DstHost: "h"},
		},
		{
			spec: "p1/a@src1:p2/backups@dst1",
			want: Pair{SrcSet: "p1/a", SrcHost: "src1", DstSet: "p2/backups", DstHost: "dst1"},
		},
		{
			spec: "p1/a:p2/backups ",
			want: Pair{SrcSet: "p1/a", DstSet: "p2/backups"},
		},
		{spec: "p1/a", wantErr: true},
		{spec: ":p2", wantErr: true},
		{spec: "p1:", wantErr: true},
		{spec: "@h:p2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			pair, err := ParsePair(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, pair)
		})
	}
}

func TestPairDestinationFor(t *testing.T) {
	pair := Pair{SrcSet: "p1", DstSet: "p2/backups"}

	require.Equal(t, "p2/backups/p1", pair.DestinationFor("p1"))
	require.Equal(t, "p2/backups/p1/a", pair.DestinationFor("p1/a"))
}

func TestPairString(t *testing.T) {
	pair := Pair{SrcSet: "p1/a", SrcHost: "src1", DstSet: "p2", DstHost: zfs.Host("dst1")}
	require.Equal(t, "p1/a@src1:p2@dst1", pair.String())

	pair = Pair{SrcSet: "p1/a", DstSet: "p2/backups"}
	require.Equal(t, "p1/a:p2/backups", pair.String())
}

func TestIsRootDataset(t *testing.T) {
	require.True(t, isRootDataset("pool"))
	require.False(t, isRootDataset("pool/a"))
	require.False(t, isRootDataset("pool/a/b"))
}
