package main

import (
	"context"
	"fmt"
	"os/exec"
)

// resetProp shells out to Magisk's own resetprop for both property
// injection and direct property sets (spec.md §1: "out of scope: property
// injection internals"; resetprop is the external tool the rest of the
// Magisk toolchain already relies on for this).
type resetProp struct{}

// InjectFile loads every "key=value" line in path as a system property.
func (resetProp) InjectFile(ctx context.Context, path string) error {
	if out, err := exec.CommandContext(ctx, "resetprop", "-f", path).CombinedOutput(); err != nil {
		return fmt.Errorf("resetprop -f %s: %w: %s", path, err, out)
	}
	return nil
}

// SetProp sets a single property directly.
func (resetProp) SetProp(ctx context.Context, key, value string) error {
	if out, err := exec.CommandContext(ctx, "resetprop", key, value).CombinedOutput(); err != nil {
		return fmt.Errorf("resetprop %s %s: %w: %s", key, value, err, out)
	}
	return nil
}

// pmInstaller runs the manager APK install the same way the original
// daemon does: app_process invoking the framework's Pm command directly,
// since pm(1) itself isn't guaranteed to exist this early in boot.
type pmInstaller struct {
	apkPath string
}

func (p pmInstaller) Install(ctx context.Context) (string, error) {
	script := "CLASSPATH=/system/framework/pm.jar " +
		"/system/bin/app_process /system/bin " +
		"com.android.commands.pm.Pm install -r " + p.apkPath
	out, err := exec.CommandContext(ctx, "sh", "-c", script).CombinedOutput()
	return string(out), err
}

// uninstallerScript runs the module-delivered uninstaller shell script
// (spec.md §1: "out of scope: the uninstaller path's script body").
type uninstallerScript struct {
	path string
}

func (u uninstallerScript) Run(ctx context.Context) error {
	return exec.CommandContext(ctx, "sh", u.path).Run()
}

// noopHideStarter is a stub: the hide subsystem's own worker body is out
// of scope (spec.md §1), so Start does nothing and returns nil instead of
// linking in a real implementation.
type noopHideStarter struct{}

func (noopHideStarter) Start(ctx context.Context) error { return nil }
