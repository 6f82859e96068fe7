package overlay

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// selinuxXattr is the xattr name the kernel uses to store a file's SELinux
// security context.
const selinuxXattr = "security.selinux"

// CloneAttr copies mode, ownership, SELinux label, and timestamps from src
// to dst, matching the source's clone_attr used both when staging a
// skeleton directory and when copying a symlink into place (spec.md §4.6
// step 2 and step 6; invariant 6 "attribute preservation").
func CloneAttr(src, dst string) error {
	var st unix.Stat_t
	if err := unix.Lstat(src, &st); err != nil {
		return fmt.Errorf("lstat %s: %w", src, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFLNK {
		if err := os.Chmod(dst, os.FileMode(st.Mode&0o7777)); err != nil {
			return fmt.Errorf("chmod %s: %w", dst, err)
		}
	}

	if err := unix.Lchown(dst, int(st.Uid), int(st.Gid)); err != nil {
		return fmt.Errorf("lchown %s: %w", dst, err)
	}

	if ctx, err := getSELinuxLabel(src); err == nil && ctx != "" {
		_ = setSELinuxLabel(dst, ctx) // best-effort: many hosts run without SELinux
	}

	atime := time.Unix(st.Atim.Sec, st.Atim.Nsec)
	mtime := time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	if err := lutimes(dst, atime, mtime); err != nil {
		return fmt.Errorf("utimes %s: %w", dst, err)
	}

	return nil
}

func getSELinuxLabel(path string) (string, error) {
	buf := make([]byte, 256)
	n, err := unix.Lgetxattr(path, selinuxXattr, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func setSELinuxLabel(path, label string) error {
	return unix.Lsetxattr(path, selinuxXattr, []byte(label), 0)
}

// lutimes sets atime/mtime on path without following a trailing symlink.
func lutimes(path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW)
}

// CopySymlink recreates the symlink at src as dst, preserving its target
// and attributes. Used wherever a symlink must be materialised instead of
// bind-mounted (spec.md §4.6 step 6, §4.4 clone condition 1).
func CopySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("readlink %s: %w", src, err)
	}
	_ = os.Remove(dst)
	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", dst, target, err)
	}
	return CloneAttr(src, dst)
}
