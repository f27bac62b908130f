package http1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ChunkMetadataSizes(t *testing.T) {
	cases := []struct {
		input    string
		status   ChunkMetadataStatus
		dataSize int64
		metaSize int
	}{
		{"5\r\nhello", ChunkMetadataExpectingData, 5, 3},
		{"1a\r\nxxxxxxxxxxxxxxxxxxxxxxxxxx", ChunkMetadataExpectingData, 26, 4},
		{"FF\r\nx", ChunkMetadataExpectingData, 255, 4},
		{"5;ext=1\r\nhello", ChunkMetadataExpectingData, 5, 9},
		{"5; a=\"q\" ;b\r\nhello", ChunkMetadataExpectingData, 5, 13},
		{"0\r\n\r\n", ChunkMetadataParsedRequest, 0, 5},
		{"0\r\nTr: 1\r\n\r\n", ChunkMetadataExpectingTrailer, 0, 3},
	}
	for _, tc := range cases {
		ch, _ := newParserChannel()
		feed(ch, tc.input)
		status, dataSize, metaSize := parseChunkMetadata(ch, 0)
		assert.Equal(t, tc.status, status, "input %q", tc.input)
		assert.Equal(t, tc.dataSize, dataSize, "input %q", tc.input)
		assert.Equal(t, tc.metaSize, metaSize, "input %q", tc.input)
	}
}

func Test_ChunkMetadataNeedsMoreData(t *testing.T) {
	for _, input := range []string{
		"", "5", "5\r", "abc", "123456789", "5;ext", "0\r\n", "0\r\n\r",
	} {
		ch, _ := newParserChannel()
		feed(ch, input)
		status, _, _ := parseChunkMetadata(ch, 0)
		assert.Equal(t, ChunkMetadataNeedsMoreData, status, "input %q", input)
	}
}

func Test_ChunkMetadataFailures(t *testing.T) {
	for _, input := range []string{
		"xyz\r\n",              // no hex digits at all
		"1234567890123\r\nx",   // more than twelve size digits
		"5\rxhello",            // CR not followed by LF
		"5;ext\x01more\r\nx",   // control byte inside the extension
		"5\x7fext\r\nx",        // DEL inside the extension
	} {
		ch, _ := newParserChannel()
		feed(ch, input)
		status, _, _ := parseChunkMetadata(ch, 0)
		assert.Equal(t, ChunkMetadataFailed, status, "input %q", input)
	}
}

func Test_ChunkMetadataAtOffset(t *testing.T) {
	ch, _ := newParserChannel()
	feed(ch, "prefix--5\r\nhello")
	status, dataSize, metaSize := parseChunkMetadata(ch, 8)
	assert.Equal(t, ChunkMetadataExpectingData, status)
	assert.Equal(t, int64(5), dataSize)
	assert.Equal(t, 3, metaSize)
}
