package stage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootlayer/overlayd/lib/imagestore"
	"github.com/rootlayer/overlayd/lib/paths"
)

// fakeOverlayMounter records every bind/unmount without touching the real
// mount namespace. Its method set is a superset of mirror.Mounter's, so a
// single fake stands in for both collaborators the orchestrator needs.
type fakeOverlayMounter struct {
	binds    []string
	unmounts []string
}

func (f *fakeOverlayMounter) BindMount(src, dst string) error {
	f.binds = append(f.binds, dst)
	return nil
}

func (f *fakeOverlayMounter) Unmount(path string) error {
	f.unmounts = append(f.unmounts, path)
	return nil
}

// fakeImgSizer reports a fixed, never-checked size; the merge/trim
// arithmetic itself is covered in package imagestore's own tests.
type fakeImgSizer struct{}

func (fakeImgSizer) Size(ctx context.Context, imgPath string) (int, int, error) { return 10, 64, nil }
func (fakeImgSizer) Resize(ctx context.Context, imgPath string, totalMiB int) error {
	return nil
}

// fakeImgMounter stands in for a loop-mounted ext4 image: Mount copies a
// backing directory's contents into the mount point, letting module
// enumeration and tree construction run against real files.
type fakeImgMounter struct {
	backing string
}

func (f *fakeImgMounter) Mount(ctx context.Context, imgPath, mountPoint string) (string, error) {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return "", err
	}
	return "loop0", copyTree(f.backing, mountPoint)
}

func (f *fakeImgMounter) Unmount(ctx context.Context, mountPoint, loopDev string) error {
	return nil
}

func copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		in, err := os.Open(srcPath)
		if err != nil {
			return err
		}
		out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			in.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type fakeInjector struct{}

func (fakeInjector) InjectFile(ctx context.Context, path string) error { return nil }

type fakeUninstaller struct{ ran bool }

func (f *fakeUninstaller) Run(ctx context.Context) error {
	f.ran = true
	return nil
}

type fakePropertySetter struct {
	key, value string
}

func (f *fakePropertySetter) SetProp(ctx context.Context, key, value string) error {
	f.key, f.value = key, value
	return nil
}

type fakeManagerInstaller struct{ calls int }

func (f *fakeManagerInstaller) Install(ctx context.Context) (string, error) {
	f.calls++
	if f.calls < 2 {
		return "Error: package manager not ready", nil
	}
	return "Success", nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *paths.Paths, *fakeOverlayMounter) {
	t.Helper()
	dataDir := t.TempDir()
	p := paths.New(dataDir)
	require.NoError(t, os.MkdirAll(p.RunDir(), 0o755))
	require.NoError(t, os.WriteFile(p.MainImage(), nil, 0o644))

	procMounts := filepath.Join(dataDir, "proc-mounts")
	require.NoError(t, os.WriteFile(procMounts, []byte("/dev/block/sda1 /system ext4 ro 0 0\n"), 0o644))

	backing := filepath.Join(dataDir, "backing")
	require.NoError(t, os.MkdirAll(backing, 0o755))

	m := &fakeOverlayMounter{}
	o := &Orchestrator{
		Paths:          p,
		Mounter:        m,
		Store:          imagestore.New(fakeImgSizer{}, &fakeImgMounter{backing: backing}),
		Injector:       fakeInjector{},
		ProcMountsPath: procMounts,
	}
	return o, p, m
}

func TestPostFS_SkipsWhenUninstallerMarkerPresent(t *testing.T) {
	o, p, m := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(p.UninstallerFile(), nil, 0o644))

	require.NoError(t, o.PostFS(context.Background()))
	assert.Empty(t, m.binds)
	_, err := os.Stat(p.UnblockFile())
	assert.NoError(t, err, "post-fs must still unblock")
}

func TestPostFS_UnblocksWithNothingStaged(t *testing.T) {
	o, p, _ := newTestOrchestrator(t)
	require.NoError(t, o.PostFS(context.Background()))
	_, err := os.Stat(p.UnblockFile())
	assert.NoError(t, err)
}

func TestPostFSData_UninstallerMarkerHandsOffAndSkipsMerge(t *testing.T) {
	o, p, _ := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(p.UninstallerFile(), nil, 0o644))
	uninstaller := &fakeUninstaller{}
	o.Uninstaller = uninstaller

	require.NoError(t, o.PostFSData(context.Background()))
	require.NoError(t, o.Wait())
	assert.True(t, uninstaller.ran)
	_, err := os.Stat(p.UnblockFile())
	assert.NoError(t, err)
}

func TestPostFSData_DisabledSkipsOverlayButStillMountsImage(t *testing.T) {
	o, p, m := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(p.DisableFile(), nil, 0o644))

	require.NoError(t, o.PostFSData(context.Background()))
	assert.Empty(t, m.binds, "core-only mode must not run the module overlay")
	_, err := os.Stat(p.UnblockFile())
	assert.NoError(t, err)
}

func TestPostFSData_DisabledStillEnablesSystemlessHosts(t *testing.T) {
	o, p, m := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(p.DisableFile(), nil, 0o644))
	require.NoError(t, os.WriteFile(p.HostsFile(), nil, 0o644))

	require.NoError(t, o.PostFSData(context.Background()))
	assert.Contains(t, m.binds, "/system/etc/hosts", "systemless hosts bind is common to core-only and overlay paths")
}

func TestPostFSData_EnablesSystemlessHosts(t *testing.T) {
	o, p, m := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(p.HostsFile(), nil, 0o644))

	require.NoError(t, o.PostFSData(context.Background()))
	assert.Contains(t, m.binds, "/system/etc/hosts")
}

func TestPostFSData_RunsModuleScriptForNonOverlayModule(t *testing.T) {
	o, p, _ := newTestOrchestrator(t)

	backing := filepath.Join(p.DataDir(), "backing")
	moduleDir := filepath.Join(backing, "scriptonly")
	require.NoError(t, os.MkdirAll(moduleDir, 0o755))
	marker := filepath.Join(p.DataDir(), "ran")
	require.NoError(t, os.WriteFile(filepath.Join(moduleDir, "post-fs-data.sh"),
		[]byte("#!/system/bin/sh\ntouch "+marker+"\n"), 0o755))

	require.NoError(t, o.PostFSData(context.Background()))

	_, err := os.Stat(marker)
	assert.NoError(t, err, "post-fs-data.sh must run even for a module with no system/ tree")
}

func TestPostFSData_EnumeratesAndMountsModuleOverlay(t *testing.T) {
	o, p, m := newTestOrchestrator(t)

	backing := filepath.Join(p.DataDir(), "backing")
	moduleDir := filepath.Join(backing, "busybox")
	require.NoError(t, os.MkdirAll(filepath.Join(moduleDir, "system", "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(moduleDir, "auto_mount"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(moduleDir, "system", "etc", "test.conf"), []byte("x"), 0o644))

	require.NoError(t, o.PostFSData(context.Background()))

	_, err := os.Stat(p.UnblockFile())
	assert.NoError(t, err)
	// /system itself gets upgraded to a synthesized skeleton (a module
	// added a brand new top-level entry), and the whole of the module's
	// "etc" directory is bind-mounted as one unit under it.
	assert.Contains(t, m.binds, "/system")
	assert.Contains(t, m.binds, "/system/etc")
}

func TestLateStart_DisabledSetsPropertyAndSkipsModules(t *testing.T) {
	o, p, m := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(p.DisableFile(), nil, 0o644))
	ps := &fakePropertySetter{}
	o.PropertySetter = ps

	require.NoError(t, o.LateStart(context.Background()))
	assert.Equal(t, "ro.magisk.disable", ps.key)
	assert.Equal(t, "1", ps.value)
	assert.Empty(t, m.binds)
}

func TestLateStart_RunsManagerInstallerUntilItSucceeds(t *testing.T) {
	o, p, _ := newTestOrchestrator(t)
	require.NoError(t, os.WriteFile(p.ManagerAPK(), nil, 0o644))
	installer := &fakeManagerInstaller{}
	o.ManagerInstaller = installer

	require.NoError(t, o.LateStart(context.Background()))
	assert.GreaterOrEqual(t, installer.calls, 2)
	_, err := os.Stat(p.ManagerAPK())
	assert.True(t, os.IsNotExist(err), "manager apk should be removed after a successful install")
}

func TestLateStart_SkipsManagerInstallWhenApkAbsent(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	installer := &fakeManagerInstaller{}
	o.ManagerInstaller = installer

	require.NoError(t, o.LateStart(context.Background()))
	assert.Equal(t, 0, installer.calls)
}
