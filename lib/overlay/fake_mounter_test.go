package overlay

// fakeMounter records bind-mount and unmount calls instead of touching the
// kernel mount namespace, so the tree-dispatch logic can be exercised
// without root privileges (see Mounter's doc comment in mount.go).
type fakeMounter struct {
	binds   []fakeBind
	fail    map[string]bool
	unmount []string
}

type fakeBind struct {
	Src, Dst string
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{fail: make(map[string]bool)}
}

func (f *fakeMounter) BindMount(src, dst string) error {
	if f.fail[dst] {
		return errFakeMount
	}
	f.binds = append(f.binds, fakeBind{Src: src, Dst: dst})
	return nil
}

func (f *fakeMounter) Unmount(path string) error {
	f.unmount = append(f.unmount, path)
	return nil
}

type fakeMountErr struct{ msg string }

func (e *fakeMountErr) Error() string { return e.msg }

var errFakeMount = &fakeMountErr{"fake mount failure"}
