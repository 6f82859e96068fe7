package overlay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicMount_ModuleLeafBindMounts(t *testing.T) {
	bc, root := newFixtureContext(t)
	m := newFakeMounter()

	leaf := NewNode("busybox", TypeReg, StatusModule)
	leaf.Module = "A"

	errs := MagicMount(context.Background(), bc, m, leaf, "/system/bin/busybox")
	require.Empty(t, errs)
	require.Len(t, m.binds, 1)

	wantSrc, err := bc.ModulePath("A", "/system/bin/busybox")
	require.NoError(t, err)
	assert.Equal(t, wantSrc, m.binds[0].Src)
	assert.Equal(t, bc.LivePath("/system/bin/busybox"), m.binds[0].Dst)
	_ = root
}

func TestMagicMount_InterRecursesIntoChildren(t *testing.T) {
	bc, _ := newFixtureContext(t)
	m := newFakeMounter()

	root := NewNode("/system", TypeDir, StatusInter)
	child := NewNode("bin", TypeDir, StatusInter)
	leaf := NewNode("busybox", TypeReg, StatusModule)
	leaf.Module = "A"
	child.Insert(leaf)
	root.Insert(child)

	errs := MagicMount(context.Background(), bc, m, root, "/system")
	require.Empty(t, errs)
	require.Len(t, m.binds, 1)
	assert.Equal(t, bc.LivePath("/system/bin/busybox"), m.binds[0].Dst)
}

func TestMagicMount_DummyIsNoOp(t *testing.T) {
	bc, _ := newFixtureContext(t)
	m := newFakeMounter()

	dummy := NewNode("hosts", TypeReg, StatusDummy)
	errs := MagicMount(context.Background(), bc, m, dummy, "/system/etc/hosts")
	assert.Empty(t, errs)
	assert.Empty(t, m.binds)
}

func TestMagicMount_VendorSentinelIsNoOp(t *testing.T) {
	bc, _ := newFixtureContext(t)
	m := newFakeMounter()

	sentinel := NewNode("vendor", TypeDir, StatusInter)
	sentinel.Vendor = true
	errs := MagicMount(context.Background(), bc, m, sentinel, "/system/vendor")
	assert.Empty(t, errs)
	assert.Empty(t, m.binds)
}

func TestMagicMount_BindFailureIsCollectedNotFatal(t *testing.T) {
	bc, _ := newFixtureContext(t)
	m := newFakeMounter()

	root := NewNode("/system", TypeDir, StatusInter)

	bad := NewNode("bad", TypeReg, StatusModule)
	bad.Module = "A"
	root.Insert(bad)

	good := NewNode("good", TypeReg, StatusModule)
	good.Module = "A"
	root.Insert(good)

	m.fail[bc.LivePath("/system/bad")] = true

	errs := MagicMount(context.Background(), bc, m, root, "/system")
	require.Len(t, errs, 1)
	assert.Equal(t, "/system/bad", errs[0].Path)
	// the walk continued past the failure and still mounted "good".
	require.Len(t, m.binds, 1)
	assert.Equal(t, "/system/good", m.binds[0].Dst)

	wantRoot := filepath.Join(bc.MountPoint, "A")
	assert.Contains(t, m.binds[0].Src, wantRoot)
}
