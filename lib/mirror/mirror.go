// Package mirror builds the read-only mirror bind-mounts the skeleton
// materialiser clones attributes and dummy entries from (spec.md §4.3). It
// parses /proc/mounts the same way canonical-lxd's lxd-agent/devices.go
// parses /proc/self/mountinfo: bufio.Scanner plus strings.Fields over a
// fixed column layout, just /proc/mounts's simpler six-column one instead
// of mountinfo's variable-length one.
package mirror

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Entry is one parsed /proc/mounts line.
type Entry struct {
	Device     string
	MountPoint string
	FSType     string
	Options    string
}

// ParseMounts reads every line of r as /proc/mounts: device, mount point,
// fstype, options, dump, pass (the last two are ignored).
func ParseMounts(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		entries = append(entries, Entry{
			Device:     fields[0],
			MountPoint: fields[1],
			FSType:     fields[2],
			Options:    fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Find returns the first entry whose mount point is exactly path.
func Find(entries []Entry, path string) (Entry, bool) {
	for _, e := range entries {
		if e.MountPoint == path {
			return e, true
		}
	}
	return Entry{}, false
}

// Mounter is the subset of overlay.Mounter the mirror layer needs to
// establish its own read-only bind mounts.
type Mounter interface {
	BindMount(src, dst string) error
}

// Mirror records whether /vendor has its own mount, the information
// HoistVendor needs to pick the sentinel's type (spec.md §8 invariant 5).
type Mirror struct {
	SeparateVendor bool
}

// Build reads procMountsPath (normally "/proc/mounts"), bind-mounts /system
// read-only at mirrorDir/system, and — if /vendor is its own mount — binds
// it at mirrorDir/vendor too; otherwise it symlinks mirrorDir/vendor to
// mirrorDir/system/vendor (spec.md §4.3).
func Build(ctx context.Context, m Mounter, procMountsPath, mirrorDir string) (*Mirror, error) {
	f, err := os.Open(procMountsPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", procMountsPath, err)
	}
	defer f.Close()

	entries, err := ParseMounts(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", procMountsPath, err)
	}

	sysEntry, ok := Find(entries, "/system")
	if !ok {
		return nil, fmt.Errorf("no mount entry for /system in %s", procMountsPath)
	}

	sysMirror := filepath.Join(mirrorDir, "system")
	if err := os.MkdirAll(sysMirror, 0o755); err != nil {
		return nil, err
	}
	if err := m.BindMount(sysEntry.Device, sysMirror); err != nil {
		return nil, err
	}

	mir := &Mirror{}
	if vendorEntry, ok := Find(entries, "/vendor"); ok {
		mir.SeparateVendor = true
		vendorMirror := filepath.Join(mirrorDir, "vendor")
		if err := os.MkdirAll(vendorMirror, 0o755); err != nil {
			return nil, err
		}
		if err := m.BindMount(vendorEntry.Device, vendorMirror); err != nil {
			return nil, err
		}
	} else {
		if err := os.Symlink(filepath.Join(sysMirror, "vendor"), filepath.Join(mirrorDir, "vendor")); err != nil && !os.IsExist(err) {
			return nil, err
		}
	}

	return mir, nil
}

// UnixBindMounter is the production Mounter, issuing a read-only MS_BIND +
// MS_RDONLY remount the same way canonical-lxd's daemon_share_mounts.go
// issues its MS_BIND|MS_REC share mount.
type UnixBindMounter struct{}

func (UnixBindMounter) BindMount(src, dst string) error {
	if err := unix.Mount(src, dst, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", src, dst, err)
	}
	if err := unix.Mount("", dst, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("remount %s read-only: %w", dst, err)
	}
	return nil
}
