package overlay

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// Mounter performs the kernel mount-namespace operations the tree walk
// dispatches to. Production code implements it directly against
// golang.org/x/sys/unix.Mount/Unmount — grounded in canonical-lxd's
// lxd/daemon/daemon_share_mounts.go, which issues MS_BIND the same way
// instead of shelling out to mount(8). Tests supply a recording fake so
// the tree-walking logic is exercised without root privileges.
type Mounter interface {
	BindMount(src, dst string) error
	Unmount(path string) error
}

// UnixMounter is the production Mounter.
type UnixMounter struct{}

// BindMount makes src appear at dst via MS_BIND.
func (UnixMounter) BindMount(src, dst string) error {
	if err := unix.Mount(src, dst, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Unmount lazily detaches path (MNT_DETACH), matching lxd-agent/devices.go's
// unmount-then-ignore-busy-children pattern for tearing down bind trees.
func (UnixMounter) Unmount(path string) error {
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", path, err)
	}
	return nil
}

// MountError records a single bind-mount failure encountered during a
// MagicMount walk.
type MountError struct {
	Path string
	Err  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// MagicMount walks node (rooted at overlayPath, "/system" or "/vendor") and
// dispatches each node to bind-mount, skeleton clone, or recursion
// (spec.md §4.7). Individual bind-mount failures are logged by the caller
// via the returned slice rather than aborting the walk (spec.md §7: "the
// tree walk continues"); a caller that wants strict all-or-nothing
// semantics can treat a non-empty return as fatal itself.
func MagicMount(ctx context.Context, bc *Context, m Mounter, node *Node, overlayPath string) []MountError {
	var errs []MountError
	magicMount(ctx, bc, m, node, overlayPath, &errs)
	return errs
}

func magicMount(ctx context.Context, bc *Context, m Mounter, node *Node, overlayPath string, errs *[]MountError) {
	if node.Vendor {
		// Sentinel: never mounted, preserves tree shape only.
		return
	}

	switch node.Status {
	case StatusModule:
		src, err := bc.ModulePath(node.Module, overlayPath)
		if err != nil {
			*errs = append(*errs, MountError{overlayPath, err})
			return
		}
		if err := m.BindMount(src, bc.LivePath(overlayPath)); err != nil {
			*errs = append(*errs, MountError{overlayPath, err})
		}
	case StatusSkel:
		cloneSkeleton(ctx, bc, m, node, overlayPath, errs)
	case StatusInter:
		for _, child := range node.Children() {
			magicMount(ctx, bc, m, child, Join(overlayPath, child.Name), errs)
		}
	case StatusDummy:
		// Dummies are only ever reached through cloneSkeleton; a dummy
		// passed directly to MagicMount is a no-op (spec.md §4.7).
	}
}
