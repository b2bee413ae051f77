package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", nil},
		{"0x0102", []byte{1, 2}},
		{"fe:01:0a", []byte{0xFE, 0x01, 0x0A}},
		{"01 02-03,04", []byte{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		got, err := ParseBytes(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseBytes("0g")
	assert.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	ext, addr, err := ParseAddress("0x1000")
	require.NoError(t, err)
	assert.Equal(t, byte(0), ext)
	assert.Equal(t, uint32(0x1000), addr)

	ext, addr, err = ParseAddress("0xAB00000010")
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), ext)
	assert.Equal(t, uint32(0x10), addr)

	_, _, err = ParseAddress("0x10000000000")
	assert.Error(t, err, "addresses beyond 40 bits must be rejected")
}

func TestTargetEntryNode(t *testing.T) {
	la := uint8(0x30)
	node, err := targetEntry{Name: "obc", LogicalAddress: 0x42, TargetPath: "01 02", InitiatorLA: &la}.node()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, node.TargetPath)
	assert.True(t, node.OverrideInitiator)
	assert.Equal(t, byte(0x30), node.InitiatorAddress(0xFE))

	_, err = targetEntry{Name: "bad", ReplyPath: "zz"}.node()
	assert.Error(t, err)
}
