package slackirc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := ControlRequest{Op: "send-message", Target: "#general", Text: "hello"}
	require.NoError(t, WriteLengthPrefixedJSON(&buf, &req))

	// 4-byte big-endian length prefix
	raw := buf.Bytes()
	require.Greater(t, len(raw), 4)
	assert.Equal(t, uint32(len(raw)-4), binary.BigEndian.Uint32(raw[:4]))

	var got ControlRequest
	require.NoError(t, ReadLengthPrefixedJSON(&buf, &got))
	assert.Equal(t, req, got)
}

func TestLengthPrefixedTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(maxControlFrame+1)))
	var got ControlRequest
	assert.Error(t, ReadLengthPrefixedJSON(&buf, &got))
}

func TestLengthPrefixedTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(100)))
	buf.WriteString("short")
	var got ControlRequest
	assert.Error(t, ReadLengthPrefixedJSON(&buf, &got))
}

func TestControlResponseEncoding(t *testing.T) {
	var buf bytes.Buffer
	resp := ControlResponse{Ok: true, Config: &ControlConfig{Port: 9007, AutoJoin: true, IgnoredChannels: []string{"#noise"}}}
	require.NoError(t, WriteLengthPrefixedJSON(&buf, &resp))
	var got ControlResponse
	require.NoError(t, ReadLengthPrefixedJSON(&buf, &got))
	require.NotNil(t, got.Config)
	assert.Equal(t, 9007, got.Config.Port)
	assert.True(t, got.Config.AutoJoin)
	assert.Equal(t, []string{"#noise"}, got.Config.IgnoredChannels)
}
