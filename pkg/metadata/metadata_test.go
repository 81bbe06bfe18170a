package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetReplacesAllValues(t *testing.T) {
	md := Pairs("x-custom", "a")
	md.Set("x-custom", "b", "c")
	assert.Equal(t, []string{"b", "c"}, md.Get("x-custom"))
}

func TestAddAppends(t *testing.T) {
	md := &MD{}
	md.Add("x-custom", "a")
	md.Add("X-Custom", "b")
	assert.Equal(t, []string{"a", "b"}, md.Get("x-CUSTOM"))
}

func TestGetIsCaseInsensitiveButKeysPreserveCasing(t *testing.T) {
	md := &MD{}
	md.Add("X-Grpc-Test-Echo-Initial", "v1")
	assert.Equal(t, []string{"v1"}, md.Get("x-grpc-test-echo-initial"))
	assert.Equal(t, []string{"X-Grpc-Test-Echo-Initial"}, md.Keys())
}

func TestCloneIndependence(t *testing.T) {
	orig := Pairs("k", "v1")
	clone := orig.Clone()

	clone.Add("k", "v2")
	assert.Equal(t, []string{"v1"}, orig.Get("k"))
	assert.Equal(t, []string{"v1", "v2"}, clone.Get("k"))

	orig.Set("k", "changed")
	assert.Equal(t, []string{"v1", "v2"}, clone.Get("k"))
}

func TestMergePreservesOrder(t *testing.T) {
	a := Pairs("a", "1")
	b := Pairs("b", "2")
	merged := a.Merge(b)
	assert.Equal(t, []string{"a", "b"}, merged.Keys())
	assert.Equal(t, []string{"1"}, merged.Get("a"))
	assert.Equal(t, []string{"2"}, merged.Get("b"))
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary("x-grpc-test-echo-trailing-bin"))
	assert.False(t, IsBinary("x-grpc-test-echo-initial"))
}

func TestEntriesRoundTrip(t *testing.T) {
	md := Pairs("a", "1", "a", "2", "b", "3")
	entries := md.Entries()
	rebuilt := FromEntries(entries)
	assert.Equal(t, []string{"1", "2"}, rebuilt.Get("a"))
	assert.Equal(t, []string{"3"}, rebuilt.Get("b"))
}

func TestDelete(t *testing.T) {
	md := Pairs("a", "1", "b", "2")
	md.Delete("a")
	assert.Nil(t, md.Get("a"))
	assert.Equal(t, []string{"b"}, md.Keys())
}
