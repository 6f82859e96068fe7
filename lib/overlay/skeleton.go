package overlay

import (
	"context"
	"log/slog"
	"os"

	"github.com/rootlayer/overlayd/lib/logger"
)

// cloneSkeleton is clone_skeleton (spec.md §4.6). It is called on a node
// whose status is Skel (or, one level down, Inter — the same function
// handles both, matching the source's `IS_SKEL | IS_INTER` recursion
// check): populate dummy children from the mirror, stage a skeleton
// directory under DummyDir, bind-mount it over the live path only if this
// node itself is Skel, then materialise every child.
func cloneSkeleton(ctx context.Context, bc *Context, m Mounter, node *Node, overlayPath string, errs *[]MountError) {
	log := logger.FromContext(ctx)

	if mirrorDir, err := bc.MirrorPath(overlayPath); err == nil {
		if entries, err := os.ReadDir(mirrorDir); err == nil {
			for _, e := range entries {
				name := e.Name()
				if name == "." || name == ".." {
					continue
				}
				if _, exists := node.Child(name); exists {
					// A module contribution or deeper recursion already
					// claims this name; dummies never outrank anything.
					continue
				}
				node.Insert(NewNode(name, classifyEntry(e), StatusDummy))
			}
		}
	}

	dummyPath, err := bc.DummyPath(overlayPath)
	if err != nil {
		*errs = append(*errs, MountError{overlayPath, err})
		return
	}
	if err := os.MkdirAll(dummyPath, 0o755); err != nil {
		*errs = append(*errs, MountError{overlayPath, err})
		return
	}

	livePath := bc.LivePath(overlayPath)
	if err := CloneAttr(livePath, dummyPath); err != nil {
		log.WarnContext(ctx, "clone skeleton attributes failed", slog.String("path", overlayPath), slog.Any("error", err))
	}

	if node.Status == StatusSkel {
		if err := m.BindMount(dummyPath, livePath); err != nil {
			*errs = append(*errs, MountError{overlayPath, err})
			// A directory we failed to bind-mount over can't host its
			// children's bind-mounts either; nothing further to do here.
			return
		}
	}

	for _, child := range node.Children() {
		childOverlay := Join(overlayPath, child.Name)
		childDummyPath, err := bc.DummyPath(childOverlay)
		if err != nil {
			*errs = append(*errs, MountError{childOverlay, err})
			continue
		}

		switch child.Type {
		case TypeDir:
			_ = os.Mkdir(childDummyPath, 0o755)
		case TypeReg:
			if f, ferr := os.OpenFile(childDummyPath, os.O_CREATE|os.O_WRONLY, 0o644); ferr == nil {
				f.Close()
			}
			// TypeLnk is deferred: materialised below from its source.
		}

		if child.Vendor {
			if child.Type == TypeLnk {
				if mirrorSystem, err := bc.MirrorPath("/system"); err == nil {
					if err := CopySymlink(Join(mirrorSystem, "vendor"), bc.LivePath("/system/vendor")); err != nil {
						*errs = append(*errs, MountError{"/system/vendor", err})
					}
				}
			}
			continue
		}

		var source string
		switch child.Status {
		case StatusModule:
			source, err = bc.ModulePath(child.Module, childOverlay)
		case StatusSkel, StatusInter:
			cloneSkeleton(ctx, bc, m, child, childOverlay, errs)
			continue
		case StatusDummy:
			source, err = bc.MirrorPath(childOverlay)
		}
		if err != nil {
			*errs = append(*errs, MountError{childOverlay, err})
			continue
		}

		if child.Type == TypeLnk {
			// The secure join behind source follows a final symlink, so the
			// link itself is read from its resolved parent directory.
			srcDir, err := bc.MirrorPath(overlayPath)
			if child.Status == StatusModule {
				srcDir, err = bc.ModulePath(child.Module, overlayPath)
			}
			if err == nil {
				err = CopySymlink(Join(srcDir, child.Name), childDummyPath)
			}
			if err != nil {
				*errs = append(*errs, MountError{childOverlay, err})
			}
			continue
		}

		if err := m.BindMount(source, bc.LivePath(childOverlay)); err != nil {
			*errs = append(*errs, MountError{childOverlay, err})
		}
	}
}
