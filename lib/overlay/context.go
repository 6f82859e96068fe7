package overlay

import (
	"path"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Context pins the four filesystem roots the tree builder and materialiser
// read from and write to. Overlay paths (e.g. "/system/etc/hosts") are
// always slash-separated logical paths; Context translates them into real
// filesystem paths under each root.
//
// LiveRoot lets tests substitute a fixture directory for the real device
// root ("/"); production code leaves it empty.
type Context struct {
	MountPoint string // loop-mounted module image; holds per-module subtrees
	MirrorDir  string // read-only bind mirrors of /system (and /vendor)
	DummyDir   string // staged skeleton directories before bind-mount
	LiveRoot   string // prefix for the real, to-be-overlaid partition; "" = real root
}

// ModulePath joins the mount point, a module name, and an overlay path,
// e.g. ModulePath("busybox", "/system/bin/busybox").
func (c *Context) ModulePath(module, overlayPath string) (string, error) {
	return securejoin.SecureJoin(c.MountPoint, filepath.Join(module, overlayPath))
}

// MirrorPath joins the mirror root with an overlay path.
func (c *Context) MirrorPath(overlayPath string) (string, error) {
	return securejoin.SecureJoin(c.MirrorDir, overlayPath)
}

// DummyPath joins the dummy root with an overlay path.
func (c *Context) DummyPath(overlayPath string) (string, error) {
	return securejoin.SecureJoin(c.DummyDir, overlayPath)
}

// LivePath joins the live-root prefix with an overlay path. On production
// hosts LiveRoot is empty and this simply returns overlayPath unchanged.
func (c *Context) LivePath(overlayPath string) string {
	if c.LiveRoot == "" {
		return overlayPath
	}
	return filepath.Join(c.LiveRoot, overlayPath)
}

// Join appends a name to a logical overlay path.
func Join(overlayPath, name string) string {
	return path.Join(overlayPath, name)
}
