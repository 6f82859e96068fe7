// Package modules implements the module enumerator (spec.md §4.2): a single
// walk over MOUNTPOINT that prunes removed modules, skips disabled ones,
// hands system.prop files to the property injector, and marks which
// survivors contribute to the overlay.
package modules

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/rootlayer/overlayd/lib/logger"
)

// skipEntries are never treated as module directories (spec.md §4.2).
var skipEntries = map[string]bool{
	".":          true,
	"..":         true,
	".core":      true,
	"lost+found": true,
}

const (
	removeMarker    = "remove"
	disableMarker   = "disable"
	autoMountMarker = "auto_mount"
	systemPropFile  = "system.prop"
	systemSubdir    = "system"
	vendorSubdir    = "vendor"
)

// PropertyInjector hands a module's system.prop file to the external
// property-injection subsystem (spec.md §1 "out of scope: property
// injection internals... only the handoff interface is in scope").
type PropertyInjector interface {
	InjectFile(ctx context.Context, path string) error
}

// Module is one active (non-removed, non-disabled) module.
type Module struct {
	Name string
	// Overlay is true when this module has both auto_mount and a system/
	// subdirectory and so contributes to the Magic Mount tree.
	Overlay bool
}

// Enumerate walks mountPoint once and returns the active module list in
// directory-entry order (spec.md §3: "Ordered sequence of active module
// names"; os.ReadDir already sorts by name, matching the deterministic
// enumeration order the rest of the system relies on).
func Enumerate(ctx context.Context, mountPoint string, injector PropertyInjector) ([]Module, error) {
	log := logger.FromContext(ctx)

	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return nil, err
	}

	var modules []Module
	for _, e := range entries {
		if !e.IsDir() || skipEntries[e.Name()] {
			continue
		}
		name := e.Name()
		dir := filepath.Join(mountPoint, name)

		if exists(filepath.Join(dir, removeMarker)) {
			log.InfoContext(ctx, "removing module", slog.String("module", name))
			if err := os.RemoveAll(dir); err != nil {
				log.WarnContext(ctx, "remove module failed", slog.String("module", name), slog.Any("error", err))
			}
			continue
		}
		if exists(filepath.Join(dir, disableMarker)) {
			log.InfoContext(ctx, "skipping disabled module", slog.String("module", name))
			continue
		}

		mod := Module{Name: name}

		propFile := filepath.Join(dir, systemPropFile)
		if exists(propFile) {
			log.InfoContext(ctx, "loading system.prop", slog.String("module", name))
			if err := injector.InjectFile(ctx, propFile); err != nil {
				log.WarnContext(ctx, "inject system.prop failed", slog.String("module", name), slog.Any("error", err))
			}
		}

		if !exists(filepath.Join(dir, autoMountMarker)) {
			modules = append(modules, mod)
			continue
		}
		systemDir := filepath.Join(dir, systemSubdir)
		if !exists(systemDir) {
			modules = append(modules, mod)
			continue
		}

		mod.Overlay = true
		log.InfoContext(ctx, "constructing magic mount structure", slog.String("module", name))

		moduleVendor := filepath.Join(dir, vendorSubdir)
		systemVendor := filepath.Join(systemDir, vendorSubdir)
		if exists(systemVendor) {
			os.Remove(moduleVendor)
			if err := os.Symlink(systemVendor, moduleVendor); err != nil {
				log.WarnContext(ctx, "link module vendor failed", slog.String("module", name), slog.Any("error", err))
			}
		}

		modules = append(modules, mod)
	}

	return modules, nil
}

// OverlayNames filters Enumerate's result down to the names that
// contribute to the overlay tree, in the order BuildSystemTree expects.
func OverlayNames(mods []Module) []string {
	return lo.FilterMap(mods, func(m Module, _ int) (string, bool) {
		return m.Name, m.Overlay
	})
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
