package imagestore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Ext4Sizer is the production Sizer, shelling out to e2fsprogs the same way
// the teacher's lib/images/disk.go shells out to mkfs.ext4 rather than
// linking against a filesystem library.
type Ext4Sizer struct{}

// Size parses `dumpe2fs -h` for block count, free blocks, and block size.
func (Ext4Sizer) Size(ctx context.Context, imgPath string) (usedMiB, totalMiB int, err error) {
	out, err := exec.CommandContext(ctx, "dumpe2fs", "-h", imgPath).CombinedOutput()
	if err != nil {
		return 0, 0, fmt.Errorf("dumpe2fs %s: %w: %s", imgPath, err, out)
	}

	var blockCount, freeBlocks, blockSize int
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "Block count:"):
			blockCount = fieldInt(line)
		case strings.HasPrefix(line, "Free blocks:"):
			freeBlocks = fieldInt(line)
		case strings.HasPrefix(line, "Block size:"):
			blockSize = fieldInt(line)
		}
	}
	if blockSize == 0 {
		return 0, 0, fmt.Errorf("dumpe2fs %s: could not parse block size", imgPath)
	}

	const mib = 1024 * 1024
	totalMiB = (blockCount * blockSize) / mib
	usedMiB = ((blockCount - freeBlocks) * blockSize) / mib
	return usedMiB, totalMiB, nil
}

func fieldInt(line string) int {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(parts[len(parts)-1])
	return n
}

// Resize grows or shrinks an unmounted ext4 image to totalMiB, running
// e2fsck first since resize2fs refuses a dirty filesystem.
func (Ext4Sizer) Resize(ctx context.Context, imgPath string, totalMiB int) error {
	// e2fsck returns non-zero even on a clean pass with fixes applied;
	// only a hard failure to run the tool is fatal here.
	_ = exec.CommandContext(ctx, "e2fsck", "-f", "-y", imgPath).Run()

	out, err := exec.CommandContext(ctx, "resize2fs", imgPath, fmt.Sprintf("%dM", totalMiB)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("resize2fs %s to %dM: %w: %s", imgPath, totalMiB, err, out)
	}
	return nil
}

// Create truncates a fresh sparse file and formats it ext4, matching the
// teacher's CreateEmptyExt4Disk in lib/images/disk.go.
func Create(ctx context.Context, path string, sizeMiB int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image parent dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	if err := f.Truncate(int64(sizeMiB) * 1024 * 1024); err != nil {
		f.Close()
		return fmt.Errorf("truncate image file: %w", err)
	}
	f.Close()

	out, err := exec.CommandContext(ctx, "mkfs.ext4", "-F", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mkfs.ext4 %s: %w: %s", path, err, out)
	}
	return nil
}

// LoopMounter is the production Mounter, driving losetup(8) and mount(8)
// directly rather than the MS_BIND path lib/overlay uses (a loop device
// needs a kernel block device node that unix.Mount alone can't attach).
type LoopMounter struct{}

// Mount attaches imgPath to a free loop device and mounts it ext4 at
// mountPoint, returning the loop device path for the matching Unmount.
func (LoopMounter) Mount(ctx context.Context, imgPath, mountPoint string) (string, error) {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return "", fmt.Errorf("create mount point: %w", err)
	}

	out, err := exec.CommandContext(ctx, "losetup", "-f", "--show", imgPath).Output()
	if err != nil {
		return "", fmt.Errorf("losetup %s: %w", imgPath, err)
	}
	loopDev := strings.TrimSpace(string(out))

	if out, err := exec.CommandContext(ctx, "mount", "-t", "ext4", loopDev, mountPoint).CombinedOutput(); err != nil {
		_ = exec.CommandContext(ctx, "losetup", "-d", loopDev).Run()
		return "", fmt.Errorf("mount %s at %s: %w: %s", loopDev, mountPoint, err, out)
	}
	return loopDev, nil
}

// Unmount reverses Mount: unmount the filesystem, then detach the loop
// device.
func (LoopMounter) Unmount(ctx context.Context, mountPoint, loopDev string) error {
	if out, err := exec.CommandContext(ctx, "umount", mountPoint).CombinedOutput(); err != nil {
		return fmt.Errorf("umount %s: %w: %s", mountPoint, err, out)
	}
	if out, err := exec.CommandContext(ctx, "losetup", "-d", loopDev).CombinedOutput(); err != nil {
		return fmt.Errorf("losetup -d %s: %w: %s", loopDev, err, out)
	}
	return nil
}
