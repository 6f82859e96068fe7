// Package paths provides centralized path construction for the overlay
// daemon's on-disk layout.
//
// Directory Structure:
//
//	{dataDir}/
//	  main.img                module image (ext4), loop-mounted at MountPoint
//	  mountpoint/              .core/
//	                             post-fs-data.d/
//	                             service.d/
//	                             props/
//	                           <module>/...
//	  mirror/                  system/   (read-only bind of the live /system)
//	                           vendor/   (read-only bind of the live /vendor, or a symlink)
//	  dummy/                   skeleton directories staged before bind-mount
//	  cache/staged/            files staged for the post-fs simple mounter
//	  staging/                 images awaiting merge into main.img
//	  logs/<stage>.log         per-stage boot logs
//	  run/unblock              created to release the init thread for a stage
//
// These are host filesystem paths (contracts with the boot scripts and the
// kernel mount namespace), distinct from the virtual overlay tree built in
// package overlay.
package paths

import "path/filepath"

// Paths provides typed path construction rooted at a data directory.
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string { return p.dataDir }

// MainImage returns the path to the canonical module image.
func (p *Paths) MainImage() string {
	return filepath.Join(p.dataDir, "main.img")
}

// MountPoint returns the directory the module image is loop-mounted at.
func (p *Paths) MountPoint() string {
	return filepath.Join(p.dataDir, "mountpoint")
}

// CoreDir returns MountPoint/.core, holding shared scripts and prop files.
func (p *Paths) CoreDir() string {
	return filepath.Join(p.MountPoint(), ".core")
}

// StageScriptDir returns the common script directory for a given stage
// ("post-fs-data" or "service").
func (p *Paths) StageScriptDir(stage string) string {
	return filepath.Join(p.CoreDir(), stage+".d")
}

// CoreProps returns the directory holding module-contributed system.prop hand-offs.
func (p *Paths) CoreProps() string {
	return filepath.Join(p.CoreDir(), "props")
}

// ModuleDir returns the directory for a given module name.
func (p *Paths) ModuleDir(module string) string {
	return filepath.Join(p.MountPoint(), module)
}

// ModulePath joins a module directory with a path relative to its root
// (e.g. "/system/etc/hosts").
func (p *Paths) ModulePath(module, relPath string) string {
	return filepath.Join(p.ModuleDir(module), relPath)
}

// MirrorDir returns the root of the read-only mirror bind mounts.
func (p *Paths) MirrorDir() string {
	return filepath.Join(p.dataDir, "mirror")
}

// MirrorPath joins the mirror root with an absolute overlay path
// (e.g. "/system/etc").
func (p *Paths) MirrorPath(overlayPath string) string {
	return filepath.Join(p.MirrorDir(), overlayPath)
}

// DummyDir returns the root of the staged skeleton directories.
func (p *Paths) DummyDir() string {
	return filepath.Join(p.dataDir, "dummy")
}

// DummyPath joins the dummy root with an absolute overlay path.
func (p *Paths) DummyPath(overlayPath string) string {
	return filepath.Join(p.DummyDir(), overlayPath)
}

// CacheMount returns the root of files staged for the post-fs simple mounter.
func (p *Paths) CacheMount() string {
	return filepath.Join(p.dataDir, "cache", "staged")
}

// CacheMountPath joins the staged-cache root with an absolute live path.
func (p *Paths) CacheMountPath(livePath string) string {
	return filepath.Join(p.CacheMount(), livePath)
}

// LogDir returns the directory holding per-stage boot logs.
func (p *Paths) LogDir() string {
	return filepath.Join(p.dataDir, "logs")
}

// StageLog returns the log file path for a given stage name.
func (p *Paths) StageLog(stage string) string {
	return filepath.Join(p.LogDir(), stage+".log")
}

// RunDir returns the directory holding runtime signal files.
func (p *Paths) RunDir() string {
	return filepath.Join(p.dataDir, "run")
}

// UnblockFile returns the path of the file created to release init.
func (p *Paths) UnblockFile() string {
	return filepath.Join(p.RunDir(), "unblock")
}

// AckSocket returns the unix socket path init connects to for a given
// stage's boot-handshake ack (spec.md §6: "each stage entry reads a client
// socket, writes a 32-bit zero ack, then closes").
func (p *Paths) AckSocket(stage string) string {
	return filepath.Join(p.RunDir(), stage+".sock")
}

// DisableFile returns the path of the core-only-mode marker.
func (p *Paths) DisableFile() string {
	return filepath.Join(p.dataDir, ".disable")
}

// UninstallerFile returns the path of the uninstaller marker/script.
func (p *Paths) UninstallerFile() string {
	return filepath.Join(p.dataDir, "uninstaller.sh")
}

// HostsFile returns the path of the systemless-hosts marker file.
func (p *Paths) HostsFile() string {
	return filepath.Join(p.dataDir, "hosts")
}

// ManagerAPK returns the path of the manager package staged for install.
func (p *Paths) ManagerAPK() string {
	return filepath.Join(p.dataDir, "manager.apk")
}

// LateLogMonFile returns the path of the late-log-monitor marker file.
func (p *Paths) LateLogMonFile() string {
	return filepath.Join(p.dataDir, ".late_log_mon")
}

// StagingImage returns a path under the data dir for a staged image to be
// merged into the main image (e.g. one delivered from an update package).
func (p *Paths) StagingImage(name string) string {
	return filepath.Join(p.dataDir, "staging", name)
}
