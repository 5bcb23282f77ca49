package ebus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerSingleFrame(t *testing.T) {
	f := NewFramer(0, 0)
	frames := f.Feed([]byte{0xAA, 0x10, 0xFE, 0x05, 0x07, 0x04, 0x00, 0x48, 0x12, 0x80, 0x00, 0xAA})

	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x10, 0xFE, 0x05, 0x07, 0x04, 0x00, 0x48, 0x12, 0x80, 0x00}, frames[0])
	assert.Zero(t, f.Pending())
}

func TestFramerBackToBackFrames(t *testing.T) {
	f := NewFramer(0, 0)
	frames := f.Feed([]byte{0xAA, 0x01, 0x02, 0xAA, 0xAA, 0x03, 0x04, 0xAA})

	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0x01, 0x02}, frames[0])
	assert.Equal(t, []byte{0x03, 0x04}, frames[1])
}

func TestFramerRetainsTruncatedFrame(t *testing.T) {
	f := NewFramer(0, 0)

	frames := f.Feed([]byte{0xAA, 0x10, 0x08, 0xB5})
	assert.Empty(t, frames)
	assert.Equal(t, 3, f.Pending())

	frames = f.Feed([]byte{0x11, 0xAA})
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x10, 0x08, 0xB5, 0x11}, frames[0])
}

func TestFramerChunkedByteByByte(t *testing.T) {
	stream := []byte{0xAA, 0xAA, 0x01, 0xA9, 0x01, 0xAA, 0x02, 0xAA}
	f := NewFramer(0, 0)

	var frames [][]byte
	for _, b := range stream {
		frames = append(frames, f.Feed([]byte{b})...)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0x01, 0xA9, 0x01}, frames[0])
	assert.Equal(t, []byte{0x02}, frames[1])
}

func TestFramerDesyncTrim(t *testing.T) {
	f := NewFramer(512, 256)
	junk := bytes.Repeat([]byte{0x55}, 600)

	frames := f.Feed(junk)
	assert.Empty(t, frames)
	assert.Equal(t, 256, f.Pending())
	assert.Equal(t, uint64(1), f.Stats().DesyncTrims)
	assert.Equal(t, uint64(344), f.Stats().BytesDropped)

	frames = f.Feed([]byte{0xAA, 0x01, 0xAA})
	require.Len(t, frames, 2)
	assert.Len(t, frames[0], 256)
	assert.Equal(t, []byte{0x01}, frames[1])
}

func TestFramerReset(t *testing.T) {
	f := NewFramer(0, 0)
	f.Feed([]byte{0x01, 0x02})
	f.Reset()
	assert.Zero(t, f.Pending())
}
