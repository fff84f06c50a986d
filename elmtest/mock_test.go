package elmtest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obdkit/elm327/elmtest"
)

func TestMockTransport_WriteEnqueuesScriptedReply(t *testing.T) {
	mt := elmtest.New(map[string]string{"ATZ": "ELM327 v1.5\r>"})

	n, err := mt.Write([]byte("ATZ\r"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, mt.CallCount("ATZ"))

	out, err := mt.ReadUntil('>', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ELM327 v1.5\r>", string(out))
}

func TestMockTransport_ReadUntilRetainsSuffix(t *testing.T) {
	mt := elmtest.New(map[string]string{"ATE0": "OK\r>extra"})
	_, err := mt.Write([]byte("ATE0\r"))
	require.NoError(t, err)

	first, err := mt.ReadUntil('>', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK\r>", string(first))

	buf := make([]byte, 16)
	n, err := mt.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "extra", string(buf[:n]))
}

func TestMockTransport_UnscriptedCommandErrors(t *testing.T) {
	mt := elmtest.New(map[string]string{})
	_, err := mt.Write([]byte("ATZ\r"))
	assert.Error(t, err)
}

func TestMockTransport_FlushInputEmptiesBuffer(t *testing.T) {
	mt := elmtest.New(map[string]string{"ATZ": "ELM327 v1.5\r>"})
	_, err := mt.Write([]byte("ATZ\r"))
	require.NoError(t, err)
	require.NoError(t, mt.FlushInput())

	_, err = mt.ReadUntil('>', 10*time.Millisecond)
	assert.Error(t, err)
}

func TestMockTransport_NeedsDelaysIsFalse(t *testing.T) {
	mt := elmtest.New(nil)
	assert.False(t, mt.NeedsDelays())
}
