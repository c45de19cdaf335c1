package job

import (
	"fmt"
	"strings"

	"github.com/tschettervictor/xync/zfs"
)

// Pair is one replication pairing of a source dataset with a destination
// namespace, either side optionally on a remote host.
type Pair struct {
	SrcSet  string
	SrcHost zfs.Host
	DstSet  string
	DstHost zfs.Host
}

// ParsePair parses a pair spec of the form src[@host]:dst[@host].
func ParsePair(spec string) (Pair, error) {
	srcPart, dstPart, ok := strings.Cut(spec, ":")
	if !ok {
		return Pair{}, fmt.Errorf("pair %q: missing ':' separator", spec)
	}

	var p Pair
	p.SrcSet, p.SrcHost = splitHost(strings.TrimSpace(srcPart))
	p.DstSet, p.DstHost = splitHost(strings.TrimSpace(dstPart))

	if p.SrcSet == "" || p.DstSet == "" {
		return Pair{}, fmt.Errorf("pair %q: both sides must name a dataset", spec)
	}
	return p, nil
}

func splitHost(s string) (string, zfs.Host) {
	set, host, ok := strings.Cut(s, "@")
	if !ok {
		return s, ""
	}
	return set, zfs.Host(host)
}

// DestinationFor maps an expanded source dataset into the pair's destination
// namespace by appending the source path verbatim. This keeps writes out of
// the destination pool's root.
func (p Pair) DestinationFor(src string) string {
	return p.DstSet + "/" + src
}

func (p Pair) String() string {
	var b strings.Builder
	b.WriteString(p.SrcSet)
	if p.SrcHost.Remote() {
		b.WriteByte('@')
		b.WriteString(string(p.SrcHost))
	}
	b.WriteByte(':')
	b.WriteString(p.DstSet)
	if p.DstHost.Remote() {
		b.WriteByte('@')
		b.WriteString(string(p.DstHost))
	}
	return b.String()
}

// isRootDataset reports whether name addresses a pool root.
func isRootDataset(name string) bool {
	return !strings.Contains(name, "/")
}
