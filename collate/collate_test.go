package collate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodingOrdersByCollation(t *testing.T) {
	// Each key collates strictly after the previous one.
	var ordered = []interface{}{
		nil,
		false,
		true,
		-1000.5,
		-1,
		0,
		1,
		2.5,
		1e10,
		"",
		"A",
		"a",
		"aa",
		"b",
		[]interface{}{},
		[]interface{}{nil},
		[]interface{}{1.0},
		[]interface{}{1.0, 2.0},
		[]interface{}{1.0, "a"},
		[]interface{}{2.0},
		[]interface{}{"a", []interface{}{}},
		map[string]interface{}{"a": 1.0},
		map[string]interface{}{"b": 1.0},
	}
	for i := 1; i != len(ordered); i++ {
		var prev, cur = MustEncode(ordered[i-1]), MustEncode(ordered[i])
		require.True(t, string(prev) < string(cur), "expected %#v < %#v", ordered[i-1], ordered[i])
	}

	var shuffled = []interface{}{"b", 1, nil, []interface{}{1.0}, true, "a", -1}
	require.NoError(t, Sort(shuffled))
	require.Equal(t, []interface{}{nil, true, -1, 1, "a", "b", []interface{}{1.0}}, shuffled)
}

func TestRoundTripOfNestedKeys(t *testing.T) {
	var key = []interface{}{
		"doc\x00with-nul",
		3.25,
		nil,
		false,
		[]interface{}{"inner", true},
		map[string]interface{}{"k": "v"},
	}
	var b, err = Encode(nil, key)
	require.NoError(t, err)

	rem, out, err := Decode(b)
	require.NoError(t, err)
	require.Empty(t, rem)
	require.Equal(t, key, out)

	// Integer and json.Number keys decode as float64.
	b = MustEncode([]interface{}{int64(7), json.Number("8")})
	_, out, err = Decode(b)
	require.NoError(t, err)
	require.Equal(t, []interface{}{7.0, 8.0}, out)
}

func TestEncodingErrors(t *testing.T) {
	var _, err = Encode(nil, struct{}{})
	require.EqualError(t, err, "unsupported key type struct {}")

	_, err = Encode(nil, []interface{}{1, make(chan int)})
	require.EqualError(t, err, "array index 1: unsupported key type chan int")

	_, _, err = Decode(nil)
	require.EqualError(t, err, "unexpected end of key")
	_, _, err = Decode([]byte{tagArray, tagNull})
	require.EqualError(t, err, "unterminated array")
	_, _, err = Decode([]byte{0xff})
	require.EqualError(t, err, "invalid key tag 255")
}
