package stage

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/rootlayer/overlayd/lib/imagestore"
	"github.com/rootlayer/overlayd/lib/logger"
	"github.com/rootlayer/overlayd/lib/mirror"
	"github.com/rootlayer/overlayd/lib/modules"
	"github.com/rootlayer/overlayd/lib/overlay"
	"github.com/rootlayer/overlayd/lib/paths"
)

// mainImageSizeMiB is the size create_img first formats MAINIMG at when no
// module has ever been installed (spec.md §4.9: "a 64 MiB image").
const mainImageSizeMiB = 64

// UninstallerRunner detaches and runs the uninstaller shell (spec.md §1:
// "out of scope: ... the uninstaller path's script body"; only the
// handoff from post-fs-data is in scope).
type UninstallerRunner interface {
	Run(ctx context.Context) error
}

// HideStarter optionally starts the hide-subsystem worker at the end of
// post-fs-data (spec.md §1: "out of scope: the hide-subsystem thread
// body"; only whether post-fs-data starts it is).
type HideStarter interface {
	Start(ctx context.Context) error
}

// PropertySetter sets a single system property directly, used for
// ro.magisk.disable when core-only mode is active (spec.md §1: property
// injection internals are out of scope; only this handoff is).
type PropertySetter interface {
	SetProp(ctx context.Context, key, value string) error
}

// Orchestrator drives the three init lifecycle callbacks over a fixed set
// of collaborators (spec.md §4.9). Paths, Mounter, Store, and Injector are
// required (Injector is called for every module carrying a system.prop).
// The other collaborators are optional; a nil one means that action is
// skipped, not an error.
type Orchestrator struct {
	Paths    *paths.Paths
	Mounter  overlay.Mounter
	Store    *imagestore.Store
	Injector modules.PropertyInjector

	ManagerInstaller ManagerInstaller
	Uninstaller      UninstallerRunner
	HideStarter      HideStarter
	PropertySetter   PropertySetter

	// ProcMountsPath overrides "/proc/mounts" in tests.
	ProcMountsPath string

	// detached tracks the uninstaller and hide-worker goroutines so a
	// caller can wait for them at shutdown instead of leaving them
	// truly unmanaged (spec.md §5: the source detaches them as raw
	// pthreads; this repo joins them through an errgroup instead).
	detached errgroup.Group
}

// Wait blocks until every goroutine PostFSData detached (the uninstaller
// hand-off, the hide worker) has returned, and reports the first error.
// Callers that want a clean shutdown call this after the lifecycle
// callbacks they care about have run.
func (o *Orchestrator) Wait() error {
	return o.detached.Wait()
}

func (o *Orchestrator) procMounts() string {
	if o.ProcMountsPath != "" {
		return o.ProcMountsPath
	}
	return "/proc/mounts"
}

// unblock creates UNBLOCKFILE, releasing the init thread waiting on this
// stage (spec.md §4.9, §6).
func (o *Orchestrator) unblock(ctx context.Context, log *slog.Logger) {
	f, err := os.Create(o.Paths.UnblockFile())
	if err != nil {
		log.ErrorContext(ctx, "create unblock file failed", slog.Any("error", err))
		return
	}
	f.Close()
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// PostFS runs before /data is available: nothing but the simple mounter
// over whatever was staged in CACHEMOUNT before boot, then unblock
// (spec.md §4.9 row 1).
func (o *Orchestrator) PostFS(ctx context.Context) error {
	log := logger.With(logger.FromContext(ctx), slog.String("stage", "post-fs"))
	defer o.unblock(ctx, log)

	if exists(o.Paths.UninstallerFile()) || exists(o.Paths.DisableFile()) {
		log.InfoContext(ctx, "uninstaller or disable marker present, skipping simple mount")
		return nil
	}

	overlay.SimpleMount(ctx, o.Mounter, o.Paths.CacheMount(), "", "/system")
	overlay.SimpleMount(ctx, o.Mounter, o.Paths.CacheMount(), "", "/vendor")
	return nil
}

// PostFSData runs once /data is available: merge any staged image into
// MAINIMG, mount it, run the core post-fs-data.d scripts, enumerate
// modules, build and mount the overlay tree, run per-module scripts, and
// unblock (spec.md §4.9 row 2).
func (o *Orchestrator) PostFSData(ctx context.Context) error {
	log := logger.With(logger.FromContext(ctx), slog.String("stage", "post-fs-data"))
	defer o.unblock(ctx, log)

	if exists(o.Paths.UninstallerFile()) {
		log.InfoContext(ctx, "uninstaller marker present, handing off")
		if o.Uninstaller != nil {
			o.detached.Go(func() error {
				if err := o.Uninstaller.Run(ctx); err != nil {
					log.ErrorContext(ctx, "uninstaller failed", slog.Any("error", err))
					return err
				}
				return nil
			})
		}
		return nil
	}

	if err := o.Store.Merge(ctx, o.Paths.StagingImage("update"), o.Paths.MainImage()); err != nil {
		log.ErrorContext(ctx, "merge staging image failed", slog.Any("error", err))
		return err
	}
	if !exists(o.Paths.MainImage()) {
		if err := imagestore.Create(ctx, o.Paths.MainImage(), mainImageSizeMiB); err != nil {
			log.ErrorContext(ctx, "create main image failed", slog.Any("error", err))
			return err
		}
	}

	loopDev, err := o.Store.Mount(ctx, o.Paths.MainImage(), o.Paths.MountPoint())
	if err != nil {
		log.ErrorContext(ctx, "mount main image failed", slog.Any("error", err))
		return err
	}

	if err := RunScriptDir(ctx, o.Paths.StageScriptDir("post-fs-data")); err != nil {
		log.WarnContext(ctx, "post-fs-data.d script failed", slog.Any("error", err))
	}

	// Core-only mode (bootstages.c's "goto core_only") skips module
	// enumeration, tree construction, and per-module post-fs-data.sh
	// entirely; it still falls through to the systemless-hosts bind and
	// the hide-worker start below, which are common to both paths
	// (bootstages.c:562-724 — the jump lands past module handling, not
	// past the rest of the function).
	if exists(o.Paths.DisableFile()) {
		log.InfoContext(ctx, "core-only mode, skipping module overlay")
	} else {
		mods, err := modules.Enumerate(ctx, o.Paths.MountPoint(), o.Injector)
		if err != nil {
			log.ErrorContext(ctx, "module enumeration failed", slog.Any("error", err))
			return err
		}

		bc := &overlay.Context{
			MountPoint: o.Paths.MountPoint(),
			MirrorDir:  o.Paths.MirrorDir(),
			DummyDir:   o.Paths.DummyDir(),
		}
		tree, err := overlay.BuildSystemTree(ctx, bc, modules.OverlayNames(mods))
		if err != nil {
			log.ErrorContext(ctx, "tree construction failed", slog.Any("error", err))
			return err
		}

		// The module image must be unmounted, trimmed, and remounted between
		// tree construction and the magic mount walk: the former reads module
		// content through MOUNTPOINT, the latter binds from it, and trim can
		// only run on an unmounted filesystem (spec.md §4.1, §4.9).
		if err := o.Store.Unmount(ctx, o.Paths.MountPoint(), loopDev); err != nil {
			log.ErrorContext(ctx, "unmount main image before trim failed", slog.Any("error", err))
			return err
		}
		if err := o.Store.Trim(ctx, o.Paths.MainImage()); err != nil {
			log.ErrorContext(ctx, "trim main image failed", slog.Any("error", err))
			return err
		}
		if _, err := o.Store.Mount(ctx, o.Paths.MainImage(), o.Paths.MountPoint()); err != nil {
			log.ErrorContext(ctx, "remount main image after trim failed", slog.Any("error", err))
			return err
		}

		mir, err := mirror.Build(ctx, o.Mounter, o.procMounts(), o.Paths.MirrorDir())
		if err != nil {
			log.ErrorContext(ctx, "mirror construction failed", slog.Any("error", err))
			return err
		}

		vendorRoot, hoisted := overlay.HoistVendor(tree, mir.SeparateVendor)

		for _, e := range overlay.MagicMount(ctx, bc, o.Mounter, tree, "/system") {
			log.WarnContext(ctx, "magic mount failed", slog.String("path", e.Path), slog.Any("error", e.Err))
		}
		if hoisted {
			for _, e := range overlay.MagicMount(ctx, bc, o.Mounter, vendorRoot, "/vendor") {
				log.WarnContext(ctx, "magic mount failed", slog.String("path", e.Path), slog.Any("error", e.Err))
			}
		}
		// Tree discarded here: nothing past this point walks it again
		// (spec.md §4.9's "destroy tree").

		// Every active module gets its post-fs-data.sh run, regardless of
		// whether it contributed to the overlay tree (spec.md §4.2, §4.9;
		// bootstages.c's exec_module_script iterates the whole module_list,
		// not just overlay contributors — compare LateStart below, which
		// does the same for service.sh).
		for _, m := range mods {
			if err := RunModuleScript(ctx, o.Paths.ModuleDir(m.Name), "post-fs-data"); err != nil {
				log.WarnContext(ctx, "module post-fs-data.sh failed", slog.String("module", m.Name), slog.Any("error", err))
			}
		}
	}

	if exists(o.Paths.HostsFile()) {
		log.InfoContext(ctx, "systemless hosts marker present, enabling systemless hosts file support")
		if err := o.Mounter.BindMount(o.Paths.HostsFile(), "/system/etc/hosts"); err != nil {
			log.WarnContext(ctx, "systemless hosts bind mount failed", slog.Any("error", err))
		}
	}

	if o.HideStarter != nil {
		o.detached.Go(func() error {
			if err := o.HideStarter.Start(ctx); err != nil {
				log.WarnContext(ctx, "hide worker failed to start", slog.Any("error", err))
				return err
			}
			return nil
		})
	}

	return nil
}

// LateStart runs once the system is otherwise booted: the service.d
// scripts, per-module service.sh, and a best-effort manager APK install
// (spec.md §4.9 row 3). Unlike the other two stages it does not unblock:
// nothing waits on late-start finishing.
func (o *Orchestrator) LateStart(ctx context.Context) error {
	log := logger.With(logger.FromContext(ctx), slog.String("stage", "late-start"))

	if err := RunScriptDir(ctx, o.Paths.StageScriptDir("service")); err != nil {
		log.WarnContext(ctx, "service.d script failed", slog.Any("error", err))
	}

	if exists(o.Paths.DisableFile()) {
		log.InfoContext(ctx, "core-only mode, setting ro.magisk.disable")
		if o.PropertySetter != nil {
			if err := o.PropertySetter.SetProp(ctx, "ro.magisk.disable", "1"); err != nil {
				log.WarnContext(ctx, "set ro.magisk.disable failed", slog.Any("error", err))
			}
		}
		return nil
	}

	mods, err := modules.Enumerate(ctx, o.Paths.MountPoint(), o.Injector)
	if err != nil && !os.IsNotExist(err) {
		log.ErrorContext(ctx, "module enumeration failed", slog.Any("error", err))
		return err
	}
	// A missing MOUNTPOINT leaves mods empty: no service.sh runs, and the
	// manager install below still proceeds.
	for _, m := range mods {
		if err := RunModuleScript(ctx, o.Paths.ModuleDir(m.Name), "service"); err != nil {
			log.WarnContext(ctx, "module service.sh failed", slog.String("module", m.Name), slog.Any("error", err))
		}
	}

	if o.ManagerInstaller != nil && exists(o.Paths.ManagerAPK()) {
		if err := InstallManager(ctx, o.ManagerInstaller); err != nil {
			log.WarnContext(ctx, "manager install did not complete", slog.Any("error", err))
		} else {
			os.Remove(o.Paths.ManagerAPK())
		}
	}

	return nil
}
