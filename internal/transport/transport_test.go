package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	tr := New(buf, 1<<20)

	require.NoError(t, tr.PutU64BE(0xdeadbeefcafef00d))
	require.NoError(t, tr.PutU8(0x42))
	require.NoError(t, tr.PutBytes([]byte("vda")))

	word, err := tr.GetU64BE()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeefcafef00d), word)

	b, err := tr.GetU8()
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), b)

	name := make([]byte, 3)
	require.NoError(t, tr.GetBytes(name))
	assert.Equal(t, "vda", string(name))
}

func TestRateLimitedEventuallyTrips(t *testing.T) {
	buf := &bytes.Buffer{}
	tr := New(buf, 64)

	assert.False(t, tr.RateLimited())
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.PutBytes(make([]byte, 64)))
	}
	assert.True(t, tr.RateLimited())
}

func TestErrPropagates(t *testing.T) {
	buf := &bytes.Buffer{}
	tr := New(buf, 1<<20)

	_, err := tr.GetU64BE()
	require.Error(t, err)
	assert.Equal(t, err, tr.Err())
}
