package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimePtr(t *testing.T) {
	t.Run("零值时间返回nil", func(t *testing.T) {
		assert.Nil(t, TimePtr(time.Time{}))
	})

	t.Run("非零时间返回指针", func(t *testing.T) {
		now := time.Now()
		ptr := TimePtr(now)
		require.NotNil(t, ptr)
		assert.Equal(t, now, *ptr)
	})
}

func TestCalculateMD5(t *testing.T) {
	// echo -n "hello" | md5sum
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", CalculateMD5([]byte("hello")))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", CalculateMD5(nil), "空内容的MD5")
}

func TestPtrHelpers(t *testing.T) {
	s := StringPtr("open")
	require.NotNil(t, s)
	assert.Equal(t, "open", *s)

	n := IntPtr(42)
	require.NotNil(t, n)
	assert.Equal(t, 42, *n)
}
