package loadgen

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	// SaltLen は名前空間接頭辞に含めるソルトの長さ
	SaltLen = 4
	// PrefixLen は名前空間接頭辞の長さ（ソルト + ユニット + ワーカー）
	PrefixLen = SaltLen + 4 + 4
	// MaxIndex はユニット・ワーカー番号の上限（4桁の16進）
	MaxIndex = 0xffff

	suffixWidth = 12
)

// NewSalt はラン固有のソルトを生成する
func NewSalt() string {
	return uuid.NewString()[:SaltLen]
}

// Namespace はワーカー専用のキー空間
type Namespace struct {
	Prefix   string
	KeyCount uint64
}

// Partition はソルト・ユニット番号・ワーカー番号から名前空間を作る
// 接頭辞は固定長なので、異なる (unit, worker) の接頭辞は互いに接頭辞関係にならない
func Partition(salt string, unit, worker int, keyCount uint64) (Namespace, error) {
	if len(salt) != SaltLen {
		return Namespace{}, fmt.Errorf("salt must be %d bytes, got %q", SaltLen, salt)
	}
	if unit < 0 || unit > MaxIndex || worker < 0 || worker > MaxIndex {
		return Namespace{}, fmt.Errorf("unit %d / worker %d out of range [0, %d]", unit, worker, MaxIndex)
	}
	if keyCount == 0 {
		return Namespace{}, fmt.Errorf("key count must be positive")
	}
	return Namespace{
		Prefix:   fmt.Sprintf("%s%04x%04x", salt, unit, worker),
		KeyCount: keyCount,
	}, nil
}

// Key は n 番目のキーを返す
func (ns Namespace) Key(n uint64) []byte {
	b := make([]byte, 0, len(ns.Prefix)+suffixWidth)
	b = append(b, ns.Prefix...)
	s := strconv.FormatUint(n, 10)
	for i := len(s); i < suffixWidth; i++ {
		b = append(b, '0')
	}
	return append(b, s...)
}

// RangeEnd は key から始まるレンジ操作の終端 [key, key+0xff) を返す
func RangeEnd(key []byte) []byte {
	end := make([]byte, len(key)+1)
	copy(end, key)
	end[len(key)] = 0xff
	return end
}

// Contains はキーがこの名前空間に属するかを返す
func (ns Namespace) Contains(key []byte) bool {
	return len(key) >= len(ns.Prefix) && string(key[:len(ns.Prefix)]) == ns.Prefix
}
