package imagestore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rootlayer/overlayd/lib/logger"
	"github.com/rootlayer/overlayd/lib/overlay"
)

// skipEntries are never considered module directories when merging or
// enumerating an image (spec.md §4.1).
var skipEntries = map[string]bool{
	".":          true,
	"..":         true,
	".core":      true,
	"lost+found": true,
}

// Merge implements merge_img (spec.md §4.1): absorb src's module
// directories into dst. If src is absent this is a no-op; if dst is absent
// src simply becomes dst. Otherwise dst is resized to fit both, both
// images are loop-mounted, any module present in both is logged as an
// upgrade and the dst copy is discarded first, then the whole of src's
// mount is cloned into dst's, attribute-preserving, before both are
// unmounted and src is removed.
func (s *Store) Merge(ctx context.Context, src, dst string) error {
	log := logger.FromContext(ctx)

	if !fileExists(src) {
		return nil
	}
	if !fileExists(dst) {
		return os.Rename(src, dst)
	}

	sUsed, _, err := s.sizer.Size(ctx, src)
	if err != nil {
		return err
	}
	tUsed, tTotal, err := s.sizer.Size(ctx, dst)
	if err != nil {
		return err
	}

	newTotal := roundSize(sUsed + tUsed)
	if newTotal != tTotal {
		if err := s.sizer.Resize(ctx, dst, newTotal); err != nil {
			return err
		}
	}

	srcTmp, err := os.MkdirTemp("", "overlayd-src-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(srcTmp)
	dstTmp, err := os.MkdirTemp("", "overlayd-dst-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dstTmp)

	sLoop, err := s.mounter.Mount(ctx, src, srcTmp)
	if err != nil {
		return err
	}
	srcMounted := true
	defer func() {
		if srcMounted {
			s.mounter.Unmount(ctx, srcTmp, sLoop)
		}
	}()

	tLoop, err := s.mounter.Mount(ctx, dst, dstTmp)
	if err != nil {
		return err
	}
	dstMounted := true
	defer func() {
		if dstMounted {
			s.mounter.Unmount(ctx, dstTmp, tLoop)
		}
	}()

	entries, err := os.ReadDir(srcTmp)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if skipEntries[name] {
			continue
		}
		if !e.IsDir() {
			continue
		}
		if fileExists(filepath.Join(dstTmp, name)) {
			log.InfoContext(ctx, "upgrade module", slog.String("module", name))
			if err := os.RemoveAll(filepath.Join(dstTmp, name)); err != nil {
				return err
			}
		} else {
			log.InfoContext(ctx, "new module", slog.String("module", name))
		}
	}

	if err := cloneDir(srcTmp, dstTmp); err != nil {
		return err
	}

	if err := s.mounter.Unmount(ctx, srcTmp, sLoop); err != nil {
		return err
	}
	srcMounted = false
	if err := s.mounter.Unmount(ctx, dstTmp, tLoop); err != nil {
		return err
	}
	dstMounted = false

	return os.Remove(src)
}

// Trim implements trim_img (spec.md §4.1): shrink img to round_size(used).
func (s *Store) Trim(ctx context.Context, img string) error {
	used, total, err := s.sizer.Size(ctx, img)
	if err != nil {
		return err
	}
	newTotal := roundSize(used)
	if newTotal == total {
		return nil
	}
	return s.sizer.Resize(ctx, img, newTotal)
}

// Mount loop-mounts img at mountPoint via the Store's Mounter.
func (s *Store) Mount(ctx context.Context, img, mountPoint string) (string, error) {
	return s.mounter.Mount(ctx, img, mountPoint)
}

// Unmount reverses Mount.
func (s *Store) Unmount(ctx context.Context, mountPoint, loopDev string) error {
	return s.mounter.Unmount(ctx, mountPoint, loopDev)
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// cloneDir recursively copies src into dst, preserving attributes on every
// entry via overlay.CloneAttr/CopySymlink (clone_dir in the source, reusing
// the same attribute-preservation primitives the skeleton materialiser
// uses for exactly the same reason: SELinux label, ownership, mode, and
// timestamps must survive the copy).
func cloneDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		srcPath := filepath.Join(src, name)
		dstPath := filepath.Join(dst, name)

		switch {
		case e.Type()&os.ModeSymlink != 0:
			if err := overlay.CopySymlink(srcPath, dstPath); err != nil {
				return err
			}
		case e.IsDir():
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := overlay.CloneAttr(srcPath, dstPath); err != nil {
				return err
			}
			if err := cloneDir(srcPath, dstPath); err != nil {
				return err
			}
		default:
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
			if err := overlay.CloneAttr(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
