package overlay

// HoistVendor extracts the "vendor" child of the /system root, if present,
// replacing it in place with a VENDOR sentinel and returning the detached
// subtree renamed to "/vendor" as an independent root (spec.md §4.5).
//
// This is a functional child-slot replace rather than aliased mutable
// surgery (spec.md §9, "Tree ownership and replacement-in-place during
// hoist" — adopted): the detached subtree is simply returned, never freed,
// so there is no risk of a use-after-free when the /system tree is later
// walked and discarded.
//
// separateVendor should be true when /proc/mounts lists /vendor as its own
// mount (lib/mirror.Mirror.SeparateVendor); it controls both the sentinel's
// declared type and whether /system/vendor ends up as a bind-mounted
// directory or a copied symlink (spec.md §8 invariant 5).
func HoistVendor(sysRoot *Node, separateVendor bool) (vendorRoot *Node, ok bool) {
	child, exists := sysRoot.Child("vendor")
	if !exists {
		return nil, false
	}

	sentinelType := TypeDir
	if separateVendor {
		sentinelType = TypeLnk
	}
	// Status is irrelevant here: Vendor overrides mount dispatch (see
	// magicMount in mount.go), matching the source's sentinel node
	// which carries only IS_VENDOR and none of the mount-dispatch bits.
	sentinel := NewNode("vendor", sentinelType, StatusDummy)
	sentinel.Vendor = true
	// Replace the child slot in place; child retains its own children.
	sysRoot.children["vendor"] = sentinel

	child.Name = "/vendor"
	return child, true
}
