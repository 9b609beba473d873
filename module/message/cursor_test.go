package message

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadline/tools/errs"
)

func TestCursor_RoundTrip(t *testing.T) {
	c := Cursor{CreatedAtMS: 1700000000123, ServerID: 987654321}
	got, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCursor_RejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":        "%%%not-base64%%%",
		"wrong version":     base64.RawURLEncoding.EncodeToString([]byte("v2:1:2")),
		"missing field":     base64.RawURLEncoding.EncodeToString([]byte("v1:123")),
		"extra field":       base64.RawURLEncoding.EncodeToString([]byte("v1:1:2:3")),
		"non-numeric ts":    base64.RawURLEncoding.EncodeToString([]byte("v1:abc:2")),
		"non-numeric id":    base64.RawURLEncoding.EncodeToString([]byte("v1:1:abc")),
		"negative ts":       base64.RawURLEncoding.EncodeToString([]byte("v1:-5:2")),
		"empty token":       "",
		"plain garbage b64": base64.RawURLEncoding.EncodeToString([]byte("garbage")),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCursor(token)
			require.Error(t, err)
			assert.True(t, errs.ErrBadCursor.Is(err), "expected bad cursor code, got %v", err)
		})
	}
}

func TestCursor_Compare(t *testing.T) {
	a := Cursor{CreatedAtMS: 100, ServerID: 1}
	b := Cursor{CreatedAtMS: 100, ServerID: 2}
	c := Cursor{CreatedAtMS: 101, ServerID: 1}

	assert.Equal(t, -1, a.Compare(b), "server id breaks ties")
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, -1, b.Compare(c), "timestamp dominates server id")
	assert.Equal(t, 0, a.Compare(a))
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Older, d)

	d, err = ParseDirection("newer")
	require.NoError(t, err)
	assert.Equal(t, Newer, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
