package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaths_ModuleLayout(t *testing.T) {
	p := New("/data/adb/overlayd")

	assert.Equal(t, "/data/adb/overlayd/main.img", p.MainImage())
	assert.Equal(t, "/data/adb/overlayd/mountpoint", p.MountPoint())
	assert.Equal(t, "/data/adb/overlayd/mountpoint/.core", p.CoreDir())
	assert.Equal(t, "/data/adb/overlayd/mountpoint/.core/post-fs-data.d", p.StageScriptDir("post-fs-data"))
	assert.Equal(t, "/data/adb/overlayd/mountpoint/busybox-ndk", p.ModuleDir("busybox-ndk"))
	assert.Equal(t, "/data/adb/overlayd/mountpoint/busybox-ndk/system/bin/busybox",
		p.ModulePath("busybox-ndk", "/system/bin/busybox"))
}

func TestPaths_MirrorAndDummy(t *testing.T) {
	p := New("/data/adb/overlayd")

	assert.Equal(t, "/data/adb/overlayd/mirror/system/etc", p.MirrorPath("/system/etc"))
	assert.Equal(t, "/data/adb/overlayd/dummy/system/etc", p.DummyPath("/system/etc"))
}

func TestPaths_RunAndLogFiles(t *testing.T) {
	p := New("/data/adb/overlayd")

	assert.Equal(t, "/data/adb/overlayd/run/unblock", p.UnblockFile())
	assert.Equal(t, "/data/adb/overlayd/logs/post-fs-data.log", p.StageLog("post-fs-data"))
	assert.Equal(t, "/data/adb/overlayd/.disable", p.DisableFile())
	assert.Equal(t, "/data/adb/overlayd/manager.apk", p.ManagerAPK())
	assert.Equal(t, "/data/adb/overlayd/run/post-fs.sock", p.AckSocket("post-fs"))
}
