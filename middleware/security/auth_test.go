package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify_RoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, exp, err := Generate(opts, "alice")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	uid, err := Verify(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("secret-a")), "alice")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("secret-b")), token)
	assert.Error(t, err)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := Verify(DefaultOptions([]byte("s")), "not.a.token")
	assert.Error(t, err)
	_, err = Verify(DefaultOptions([]byte("s")), "")
	assert.Error(t, err)
}

func TestGenerate_UnsupportedAlg(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.Alg = "none"
	_, _, err := Generate(opts, "alice")
	assert.Error(t, err)
}
