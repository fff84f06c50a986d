package elm327

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUdsResponse_WithDataIdentifier(t *testing.T) {
	resp, err := DecodeUdsResponse([]byte{0x62, 0x01, 0x02, 0x05, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, byte(0x62), resp.ServiceID)
	require.NotNil(t, resp.DataIdentifier)
	assert.Equal(t, uint16(0x0102), *resp.DataIdentifier)
	assert.Equal(t, []byte{0x05, 0xFF}, resp.Payload)
}

func TestDecodeUdsResponse_WithoutDataIdentifier(t *testing.T) {
	resp, err := DecodeUdsResponse([]byte{0x41, 0x0D, 0x3C})
	require.NoError(t, err)
	assert.Equal(t, byte(0x41), resp.ServiceID)
	assert.Nil(t, resp.DataIdentifier)
	assert.Equal(t, []byte{0x0D, 0x3C}, resp.Payload)
}

func TestDecodeUdsResponse_TooShortForDataIdentifier(t *testing.T) {
	_, err := DecodeUdsResponse([]byte{0x62, 0x01})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUdsMalformed))
}

func TestDecodeUdsResponse_EmptyPayload(t *testing.T) {
	_, err := DecodeUdsResponse(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUdsMalformed))
}

// Single frame of declared length 0 yields an empty payload, which is
// too short for any service id to be present at all.
func TestDecodeUdsResponse_SingleFrameZeroLengthIsMalformed(t *testing.T) {
	payload, err := ParseIsoTpFrames([]string{"00"})
	require.NoError(t, err)
	_, err = DecodeUdsResponse(payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUdsMalformed))
}

func TestDecodeUdsResponse_RoundTripForServiceOutsideDataIdSet(t *testing.T) {
	payload := []byte{0x41, 0x0C, 0x1A, 0x2B}
	resp, err := DecodeUdsResponse(payload)
	require.NoError(t, err)
	assert.Nil(t, resp.DataIdentifier)
	assert.Len(t, resp.Payload, len(payload)-1)
	assert.Equal(t, payload[1:], resp.Payload)
}
