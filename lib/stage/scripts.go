package stage

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// RunScriptDir runs every executable regular file directly under dir, in
// name order, as `sh <file>` (spec.md §6: the common post-fs-data.d and
// service.d script directories). A missing dir is not an error; one
// script's failure doesn't stop the rest from running.
func RunScriptDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		if err := exec.CommandContext(ctx, "sh", filepath.Join(dir, name)).Run(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunModuleScript runs <moduleDir>/<stage>.sh if it exists and is
// executable (spec.md §4.9: per-module post-fs-data.sh and service.sh).
func RunModuleScript(ctx context.Context, moduleDir, stage string) error {
	script := filepath.Join(moduleDir, stage+".sh")
	info, err := os.Stat(script)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&0o111 == 0 {
		return nil
	}
	return exec.CommandContext(ctx, "sh", script).Run()
}
