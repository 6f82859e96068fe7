package overlay

import (
	"context"
	"log/slog"
	"os"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/rootlayer/overlayd/lib/logger"
)

// SimpleMount walks cacheMountRoot<overlayPath> (files already staged
// before /data is available) and bind-mounts any staged regular file over
// its live counterpart, cloning attributes first. It never creates paths
// that don't already exist on the live partition (spec.md §4.8): this is
// the post-fs mounter, used before the richer magic-mount machinery in
// post-fs-data can run.
func SimpleMount(ctx context.Context, m Mounter, cacheMountRoot, liveRoot, overlayPath string) {
	log := logger.FromContext(ctx)

	stagedDir, err := securejoin.SecureJoin(cacheMountRoot, overlayPath)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(stagedDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		childOverlay := Join(overlayPath, name)

		if entry.IsDir() {
			SimpleMount(ctx, m, cacheMountRoot, liveRoot, childOverlay)
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			continue // only regular files are simple-mounted (spec.md §4.8)
		}

		stagedPath, err := securejoin.SecureJoin(cacheMountRoot, childOverlay)
		if err != nil {
			continue
		}
		livePath, err := securejoin.SecureJoin(liveRoot, childOverlay)
		if err != nil {
			continue
		}
		if _, err := os.Lstat(livePath); err != nil {
			continue // missing live target: simple mount never creates new paths
		}

		if err := CloneAttr(livePath, stagedPath); err != nil {
			log.WarnContext(ctx, "clone attr before simple mount failed", slog.String("path", childOverlay), slog.Any("error", err))
		}
		if err := m.BindMount(stagedPath, livePath); err != nil {
			log.WarnContext(ctx, "simple mount failed", slog.String("path", childOverlay), slog.Any("error", err))
		}
	}
}
