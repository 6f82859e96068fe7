package imagestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundSize(t *testing.T) {
	// spec.md §8 scenario 7: 10 MiB used in src, 20/32 in dst -> 96.
	assert.Equal(t, 96, roundSize(10+20))
	assert.Equal(t, 64, roundSize(0))
	assert.Equal(t, 66, roundSize(33))
}

// fakeSizer tracks used/total per image path without touching a real ext4
// filesystem, so merge/trim arithmetic is exercised in isolation.
type fakeSizer struct {
	sizes map[string][2]int // path -> [used, total]
}

func newFakeSizer() *fakeSizer { return &fakeSizer{sizes: make(map[string][2]int)} }

func (f *fakeSizer) Size(ctx context.Context, imgPath string) (int, int, error) {
	s := f.sizes[imgPath]
	return s[0], s[1], nil
}

func (f *fakeSizer) Resize(ctx context.Context, imgPath string, totalMiB int) error {
	s := f.sizes[imgPath]
	f.sizes[imgPath] = [2]int{s[0], totalMiB}
	return nil
}

// fakeMounter stands in for loop-mounting: it copies a "backing" directory's
// plain contents into the mount point on Mount and copies them back on
// Unmount, so Merge's directory-walk and cloneDir logic run against real
// temp-dir filesystem state without a loop device.
type fakeMounter struct {
	backing map[string]string // image path -> backing directory
	mounted map[string]string // mount point -> image path, set during Mount
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{backing: make(map[string]string), mounted: make(map[string]string)}
}

func (f *fakeMounter) Mount(ctx context.Context, imgPath, mountPoint string) (string, error) {
	bd, ok := f.backing[imgPath]
	require1(ok, "no backing dir registered for "+imgPath)
	if err := plainCopyTree(bd, mountPoint); err != nil {
		return "", err
	}
	f.mounted[mountPoint] = imgPath
	return "loop-fake", nil
}

func (f *fakeMounter) Unmount(ctx context.Context, mountPoint, loopDev string) error {
	imgPath := f.mounted[mountPoint]
	bd := f.backing[imgPath]
	if err := os.RemoveAll(bd); err != nil {
		return err
	}
	return plainCopyTree(mountPoint, bd)
}

func require1(ok bool, msg string) {
	if !ok {
		panic(msg)
	}
}

func plainCopyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := plainCopyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dstPath, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestMerge_SourceAbsentIsNoOp(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "dst.img")
	require.NoError(t, os.WriteFile(dst, []byte("dst"), 0o644))

	s := New(newFakeSizer(), newFakeMounter())
	require.NoError(t, s.Merge(context.Background(), filepath.Join(root, "missing.img"), dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "dst", string(data))
}

func TestMerge_DestAbsentRenamesSource(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.img")
	dst := filepath.Join(root, "dst.img")
	require.NoError(t, os.WriteFile(src, []byte("src"), 0o644))

	s := New(newFakeSizer(), newFakeMounter())
	require.NoError(t, s.Merge(context.Background(), src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "src", string(data))
}

// spec.md §8 scenario 7: merges modules present only in src, and upgrades
// (replaces) a module present in both.
func TestMerge_UpgradesCommonModuleAndKeepsDisjointOnes(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.img")
	dst := filepath.Join(root, "dst.img")
	require.NoError(t, os.WriteFile(src, []byte{}, 0o644))
	require.NoError(t, os.WriteFile(dst, []byte{}, 0o644))

	srcBacking := filepath.Join(root, "src-backing")
	dstBacking := filepath.Join(root, "dst-backing")
	writeFile(t, filepath.Join(srcBacking, "shared", "new.conf"), "from-src")
	writeFile(t, filepath.Join(srcBacking, "onlysrc", "file"), "x")
	writeFile(t, filepath.Join(dstBacking, "shared", "old.conf"), "from-dst")
	writeFile(t, filepath.Join(dstBacking, "onlydst", "file"), "y")

	sizer := newFakeSizer()
	sizer.sizes[src] = [2]int{10, 32}
	sizer.sizes[dst] = [2]int{20, 32}

	mounter := newFakeMounter()
	mounter.backing[src] = srcBacking
	mounter.backing[dst] = dstBacking

	s := New(sizer, mounter)
	require.NoError(t, s.Merge(context.Background(), src, dst))

	// resized to round_size(10+20) = 96
	assert.Equal(t, 96, sizer.sizes[dst][1])

	// shared/ was replaced wholesale by src's copy (upgrade), not merged file-by-file.
	_, err := os.Stat(filepath.Join(dstBacking, "shared", "old.conf"))
	assert.True(t, os.IsNotExist(err), "old module contents should be removed on upgrade")
	data, err := os.ReadFile(filepath.Join(dstBacking, "shared", "new.conf"))
	require.NoError(t, err)
	assert.Equal(t, "from-src", string(data))

	// onlydst/ survives untouched, onlysrc/ is now present too.
	data, err = os.ReadFile(filepath.Join(dstBacking, "onlydst", "file"))
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))
	data, err = os.ReadFile(filepath.Join(dstBacking, "onlysrc", "file"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source image should be removed after merge")
}

func TestTrim_ResizesToRoundedUsed(t *testing.T) {
	root := t.TempDir()
	img := filepath.Join(root, "main.img")
	require.NoError(t, os.WriteFile(img, []byte{}, 0o644))

	sizer := newFakeSizer()
	sizer.sizes[img] = [2]int{5, 96}

	s := New(sizer, newFakeMounter())
	require.NoError(t, s.Trim(context.Background(), img))
	assert.Equal(t, 64, sizer.sizes[img][1])
}

func TestTrim_NoOpWhenAlreadyRounded(t *testing.T) {
	root := t.TempDir()
	img := filepath.Join(root, "main.img")
	require.NoError(t, os.WriteFile(img, []byte{}, 0o644))

	sizer := newFakeSizer()
	sizer.sizes[img] = [2]int{33, 66}

	s := New(sizer, newFakeMounter())
	require.NoError(t, s.Trim(context.Background(), img))
	assert.Equal(t, 66, sizer.sizes[img][1])
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
