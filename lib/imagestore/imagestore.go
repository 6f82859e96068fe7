// Package imagestore manages the growable ext4 image file (MAINIMG) that
// holds per-module subdirectories once they're installed (spec.md §4.1).
// Sizing and loopback mounting are behind small interfaces, grounded in the
// same exec.Command style the teacher uses for mkfs.ext4 in
// lib/images/disk.go, so the merge/trim arithmetic is testable without a
// loop device.
package imagestore

import "context"

// Sizer reports and changes an ext4 image's used/total size, both in
// round_size's native unit (spec.md §4.1: "blocks or 32-block rounded
// units" — this implementation uses whole mebibytes, matching
// create_img(path, 64)'s "64 MiB image" usage).
type Sizer interface {
	Size(ctx context.Context, imgPath string) (usedMiB, totalMiB int, err error)
	Resize(ctx context.Context, imgPath string, totalMiB int) error
}

// Mounter loop-mounts and unmounts an ext4 image file.
type Mounter interface {
	Mount(ctx context.Context, imgPath, mountPoint string) (loopDev string, err error)
	Unmount(ctx context.Context, mountPoint, loopDev string) error
}

// Store implements merge/trim/create/mount over Sizer and Mounter.
type Store struct {
	sizer   Sizer
	mounter Mounter
}

// New builds a Store over the given Sizer and Mounter.
func New(sizer Sizer, mounter Mounter) *Store {
	return &Store{sizer: sizer, mounter: mounter}
}

// roundSize is round_size(a) = ((a/32)+2)*32 from spec.md §4.1 / the
// source's merge_img and trim_img.
func roundSize(units int) int {
	return ((units / 32) + 2) * 32
}
