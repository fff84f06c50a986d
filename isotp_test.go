package elm327

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIsoTpFrames_SingleFrame(t *testing.T) {
	payload, err := ParseIsoTpFrames([]string{"0562010205FF"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x62, 0x01, 0x02, 0x05, 0xFF}, payload)
}

func TestParseIsoTpFrames_MultiFrame(t *testing.T) {
	frames := []string{
		"1027620102FFFFFF",
		"21FFBCBCBCBCBCBC",
		"22BCBCBCBCBCBCBC",
		"23BCBCBCBCBCBCBC",
		"24BCBCBCBCBCBCBC",
		"25BCBCBCBCBCAAAA",
	}
	payload, err := ParseIsoTpFrames(frames)
	require.NoError(t, err)
	require.Len(t, payload, 0x27)
	assert.Equal(t, []byte{0x62, 0x01, 0x02, 0xFF, 0xFF, 0xFF, 0xFF}, payload[:7])
	for _, b := range payload[7:] {
		assert.Equal(t, byte(0xBC), b)
	}
}

func TestParseIsoTpFrames_SequenceMismatch(t *testing.T) {
	_, err := ParseIsoTpFrames([]string{
		"1010620102FFFFFF",
		"22BCBCBCBCBCBCBC",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIsoTpProtocol))
}

func TestParseIsoTpFrames_SingleFrameZeroLength(t *testing.T) {
	payload, err := ParseIsoTpFrames([]string{"00"})
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestParseIsoTpFrames_FirstFrameCompletesWithoutConsecutive(t *testing.T) {
	// First frame, declared length 4; inline data already covers it so no
	// consecutive frame is required.
	payload, err := ParseIsoTpFrames([]string{"100462010200"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x62, 0x01, 0x02, 0x00}, payload)
}

func TestParseIsoTpFrames_ConsecutiveWithoutFirst(t *testing.T) {
	_, err := ParseIsoTpFrames([]string{"21AABBCCDDEEFF00"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIsoTpProtocol))
}

func TestParseIsoTpFrames_SecondSingleFrameRejected(t *testing.T) {
	asm := NewIsoTpAssembler()
	f1, err := parseIsoTpFrame([]byte{0x02, 0x62, 0x01})
	require.NoError(t, err)
	require.NoError(t, asm.AddFrame(f1))

	f2, err := parseIsoTpFrame([]byte{0x01, 0x62})
	require.NoError(t, err)
	err = asm.AddFrame(f2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIsoTpProtocol))
}

func TestParseIsoTpFrames_EmptyFrameBytes(t *testing.T) {
	_, err := ParseIsoTpFrames([]string{""})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIsoTpProtocol))
}

func TestIsoTpAssembler_SequenceWrapsThrough15To0To1(t *testing.T) {
	asm := NewIsoTpAssembler()

	// Declared length 106 = 4 inline bytes + 17 consecutive frames of 6
	// bytes each, forcing the sequence counter through 15 -> 0 -> 1.
	first, err := parseIsoTpFrame([]byte{0x10, 0x6A, 0x62, 0x01, 0x02, 0xAA})
	require.NoError(t, err)
	require.NoError(t, asm.AddFrame(first))

	seqs := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 0, 1}
	for _, seq := range seqs {
		if asm.Complete() {
			break
		}
		raw := []byte{0x20 | seq, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}
		frame, err := parseIsoTpFrame(raw)
		require.NoError(t, err)
		require.NoError(t, asm.AddFrame(frame))
	}

	require.True(t, asm.Complete())
	payload, err := asm.GetPayload()
	require.NoError(t, err)
	assert.Len(t, payload, 106)
}
