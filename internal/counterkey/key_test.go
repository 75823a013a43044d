package counterkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLineKey(t *testing.T) {
	key, userID, err := ResolveLineKey(" L1 ", "S1", " u1 ")
	require.NoError(t, err)
	assert.Equal(t, LineKey{LineID: "L1", StationID: "S1"}, key)
	assert.Equal(t, "u1", userID)
}

func TestResolveLineKeyMissingFields(t *testing.T) {
	cases := []struct {
		name      string
		lineID    string
		stationID string
		userID    string
	}{
		{"缺少lineId", "", "S1", "u1"},
		{"缺少stationId", "L1", "", "u1"},
		{"缺少userId", "L1", "S1", ""},
		{"全空格", "  ", "S1", "u1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ResolveLineKey(tc.lineID, tc.stationID, tc.userID)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestResolveRouteKeyCoercion(t *testing.T) {
	// 字符串形式的数字
	key, err := ResolveRouteKey("12345", "678", "")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), key.StationID)
	assert.Equal(t, int64(678), key.RouteMkt)
	assert.Equal(t, "", key.RouteDirection)

	// JSON数字解码出来的float64
	key, err = ResolveRouteKey(float64(12345), float64(678), " north ")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), key.StationID)
	assert.Equal(t, int64(678), key.RouteMkt)
	assert.Equal(t, "north", key.RouteDirection)
}

func TestResolveRouteKeyInvalidInput(t *testing.T) {
	_, err := ResolveRouteKey("abc", "678", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ResolveRouteKey("12345", "", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ResolveRouteKey(nil, "678", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ResolveRouteKey([]string{"12345"}, "678", "")
	assert.ErrorIs(t, err, ErrValidation)
}

// 等价请求必须落在同一个键上
func TestResolveRouteKeyEquivalence(t *testing.T) {
	fromString, err := ResolveRouteKey("42", "7", "")
	require.NoError(t, err)

	fromNumber, err := ResolveRouteKey(float64(42), 7, "")
	require.NoError(t, err)

	assert.Equal(t, fromString, fromNumber)
}
