package loadgen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionDisjoint(t *testing.T) {
	salt := NewSalt()
	require.Len(t, salt, SaltLen)

	var namespaces []Namespace
	for unit := range 6 {
		for worker := range 10 {
			ns, err := Partition(salt, unit, worker, 1000)
			require.NoError(t, err)
			require.Len(t, ns.Prefix, PrefixLen)
			namespaces = append(namespaces, ns)
		}
	}

	for i, a := range namespaces {
		for j, b := range namespaces {
			if i == j {
				continue
			}
			assert.False(t, strings.HasPrefix(a.Prefix, b.Prefix), "%s vs %s", a.Prefix, b.Prefix)
			assert.False(t, b.Contains(a.Key(0)))
			assert.False(t, b.Contains(RangeEnd(a.Key(999))))
		}
	}
}

func TestPartitionRejectsInvalidInput(t *testing.T) {
	_, err := Partition("abc", 0, 0, 10)
	assert.Error(t, err)

	_, err = Partition("abcd", MaxIndex+1, 0, 10)
	assert.Error(t, err)

	_, err = Partition("abcd", 0, -1, 10)
	assert.Error(t, err)

	_, err = Partition("abcd", 0, 0, 0)
	assert.Error(t, err)
}

func TestNamespaceKey(t *testing.T) {
	ns, err := Partition("abcd", 1, 2, 100)
	require.NoError(t, err)

	assert.Equal(t, "abcd00010002", ns.Prefix)
	assert.Equal(t, []byte("abcd00010002000000000042"), ns.Key(42))
	assert.True(t, ns.Contains(ns.Key(7)))
	assert.False(t, ns.Contains([]byte("abcd0001")))

	// キーの辞書順は番号順と一致する
	assert.Equal(t, -1, bytes.Compare(ns.Key(9), ns.Key(10)))
}

func TestRangeEnd(t *testing.T) {
	key := []byte("k1")
	end := RangeEnd(key)

	assert.Equal(t, []byte("k1\xff"), end)
	assert.Equal(t, []byte("k1"), key, "input is not modified")
	assert.Equal(t, 1, bytes.Compare(end, []byte("k1zzz")))
}
