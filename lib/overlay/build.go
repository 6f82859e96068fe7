package overlay

import (
	"context"
	"log/slog"
	"os"

	"github.com/rootlayer/overlayd/lib/logger"
)

// BuildSystemTree walks every active module (in enumeration order) under
// the given Context and returns the merged /system overlay tree, following
// the precedence rule MODULE > SKEL > INTER > DUMMY (spec.md §3, §4.4).
//
// Re-running BuildSystemTree with the same modules and the same live/mirror
// contents yields an equivalent tree (spec.md §8 invariant 1): the walk
// order over module entries is the only source of nondeterminism, and
// os.ReadDir already returns entries sorted by name.
func BuildSystemTree(ctx context.Context, bc *Context, modules []string) (*Node, error) {
	root := NewNode("/system", TypeDir, StatusInter)
	log := logger.FromContext(ctx)
	for _, module := range modules {
		if err := buildDir(bc, module, root, "/system"); err != nil {
			log.WarnContext(ctx, "module tree construction failed", slog.String("module", module), slog.Any("error", err))
		}
	}
	return root, nil
}

// buildDir is construct_tree: it opens <MountPoint>/<module><parentPath>
// and inserts one child per entry into parent, recursing into children
// that end up Inter or Skel.
func buildDir(bc *Context, module string, parent *Node, parentPath string) error {
	modDir, err := bc.ModulePath(module, parentPath)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(modDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing directory in a traversal: abort only this
			// traversal, caller continues (spec.md §7).
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}

		nodeType := classifyEntry(entry)
		candidate := Join(parentPath, name)

		clone, err := needsClone(bc, nodeType, parentPath, name, candidate)
		if err != nil {
			return err
		}

		child := NewNode(name, nodeType, StatusInter)
		child.Module = module

		switch {
		case clone:
			child.Status = StatusModule
			parent.Upgrade(StatusSkel)
		case nodeType == TypeDir:
			replacePath, err := bc.ModulePath(module, Join(candidate, ".replace"))
			if err != nil {
				return err
			}
			if fileExists(replacePath) {
				child.Status = StatusModule
			} else {
				child.Status = StatusInter
			}
		default:
			child.Status = StatusModule
		}

		// Recurse into whichever node won the slot, not necessarily
		// child itself — see Node.Insert.
		effective := parent.Insert(child)
		if effective.Status == StatusInter || effective.Status == StatusSkel {
			if err := buildDir(bc, module, effective, candidate); err != nil {
				return err
			}
		}
	}

	return nil
}

// needsClone implements the three clone conditions from spec.md §4.4 step 2:
// a symlink contribution, a live target that doesn't exist yet, or a live
// target that is itself a symlink (except the /system/vendor special case,
// which is handled by the later vendor hoist instead).
func needsClone(bc *Context, nodeType NodeType, parentPath, name, candidate string) (bool, error) {
	if nodeType == TypeLnk {
		return true, nil
	}

	livePath := bc.LivePath(candidate)
	liveInfo, err := os.Lstat(livePath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}

	if parentPath == "/system" && name == "vendor" {
		return false, nil
	}

	return liveInfo.Mode()&os.ModeSymlink != 0, nil
}

func classifyEntry(e os.DirEntry) NodeType {
	switch {
	case e.Type()&os.ModeSymlink != 0:
		return TypeLnk
	case e.IsDir():
		return TypeDir
	default:
		return TypeReg
	}
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
