package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoistVendor_SeparatePartition(t *testing.T) {
	sys := NewNode("/system", TypeDir, StatusInter)
	vendor := NewNode("vendor", TypeDir, StatusInter)
	lib := NewNode("lib", TypeDir, StatusInter)
	vendor.Insert(lib)
	sys.Insert(vendor)

	detached, ok := HoistVendor(sys, true)
	require.True(t, ok)
	assert.Equal(t, "/vendor", detached.Name)
	assert.Same(t, lib, mustChild(t, detached, "lib"))

	sentinel, ok := sys.Child("vendor")
	require.True(t, ok)
	assert.True(t, sentinel.Vendor)
	assert.Equal(t, TypeLnk, sentinel.Type)
}

func TestHoistVendor_NoSeparatePartition(t *testing.T) {
	sys := NewNode("/system", TypeDir, StatusInter)
	vendor := NewNode("vendor", TypeDir, StatusInter)
	sys.Insert(vendor)

	_, ok := HoistVendor(sys, false)
	require.True(t, ok)

	sentinel, ok := sys.Child("vendor")
	require.True(t, ok)
	assert.Equal(t, TypeDir, sentinel.Type)
}

func TestHoistVendor_NoVendorContribution(t *testing.T) {
	sys := NewNode("/system", TypeDir, StatusInter)
	_, ok := HoistVendor(sys, true)
	assert.False(t, ok)
}

func mustChild(t *testing.T, n *Node, name string) *Node {
	t.Helper()
	c, ok := n.Child(name)
	require.True(t, ok)
	return c
}
