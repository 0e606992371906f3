package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestStringSliceToJSON(t *testing.T) {
	t.Run("正常切片", func(t *testing.T) {
		data, err := StringSliceToJSON([]string{"Go", "MySQL"})
		require.NoError(t, err)
		assert.JSONEq(t, `["Go","MySQL"]`, string(data))
	})

	t.Run("nil序列化为空数组", func(t *testing.T) {
		data, err := StringSliceToJSON(nil)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(data))
	})
}

func TestJSONToStringSlice(t *testing.T) {
	t.Run("正常数组", func(t *testing.T) {
		assert.Equal(t, []string{"Go", "Redis"}, JSONToStringSlice(datatypes.JSON(`["Go","Redis"]`)))
	})

	t.Run("空值返回空切片", func(t *testing.T) {
		out := JSONToStringSlice(nil)
		require.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("损坏的JSON返回空切片", func(t *testing.T) {
		out := JSONToStringSlice(datatypes.JSON(`["Go"`))
		require.NotNil(t, out)
		assert.Empty(t, out)
	})
}

func TestStructToJSON(t *testing.T) {
	data, err := StructToJSON(map[string]interface{}{"full_name": "张伟", "skills": []string{"React"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"full_name":"张伟","skills":["React"]}`, string(data))
}
