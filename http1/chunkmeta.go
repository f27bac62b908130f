package http1

import (
	"math/bits"
	"strconv"

	"github.com/brisk-server/brisk/internal/channel"
	"github.com/brisk-server/brisk/internal/ring"
)

// ChunkMetadataStatus is the outcome of classifying one chunk
// metadata line.
type ChunkMetadataStatus int

const (
	// ChunkMetadataExpectingData reports a nonzero chunk size; the
	// chunk's payload follows the metadata.
	ChunkMetadataExpectingData ChunkMetadataStatus = iota
	// ChunkMetadataParsedRequest reports the zero-size last chunk
	// immediately followed by the final empty line: the request is
	// complete and the metadata size covers both CRLF pairs.
	ChunkMetadataParsedRequest
	// ChunkMetadataExpectingTrailer reports the zero-size last chunk
	// followed by something other than the final CRLF: a trailer
	// section starts right after the metadata.
	ChunkMetadataExpectingTrailer
	// ChunkMetadataNeedsMoreData reports that no decision can be made
	// on the bytes buffered so far.
	ChunkMetadataNeedsMoreData
	// ChunkMetadataFailed reports a grammar violation.
	ChunkMetadataFailed
)

// maxChunkSizeDigits bounds the hex size run; twelve digits cover any
// realistic chunk and keep the value well inside 64 bits.
const maxChunkSizeDigits = 12

// parseChunkMetadata classifies the chunk metadata beginning at
// offset in the channel's read buffer:
//
//	chunk-metadata = 1*12 HEXDIG *( BWS ";" BWS chunk-ext-name [ BWS "=" BWS chunk-ext-val ] ) CRLF
//
// Extension bytes between the size and the CRLF are accepted without
// interpretation; any control byte other than HTAB, and DEL, ends the
// scan. The returned metadata size includes the terminating CRLF, and
// for ChunkMetadataParsedRequest the final empty line as well.
func parseChunkMetadata(ch *channel.IOChannel, offset int) (status ChunkMetadataStatus, chunkDataSize int64, chunkMetadataSize int) {
	avail := ch.DataAvailable() - offset
	if avail < 3 {
		return ChunkMetadataNeedsMoreData, 0, 0
	}
	it := ring.NewWideIterator(ch.ReadBuffer())

	block := it.NextAt(offset)
	matchCount := bits.TrailingZeros32(blockMask(&block, stopNotHexDigit))
	hexDigitCount := min(avail-1, matchCount)
	currentIndex := hexDigitCount

	if hexDigitCount == 0 || hexDigitCount > maxChunkSizeDigits {
		return ChunkMetadataFailed, 0, 0
	}
	if currentIndex+1 >= avail {
		return ChunkMetadataNeedsMoreData, 0, 0
	}
	size, err := strconv.ParseUint(string(ch.Slice(offset, hexDigitCount)), 16, 64)
	if err != nil {
		return ChunkMetadataFailed, 0, 0
	}
	chunkDataSize = int64(size)
	for {
		extBlock := it.NextAt(offset + currentIndex)
		k := bits.TrailingZeros32(blockMask(&extBlock, stopNotFieldContent))
		count := min(avail-2-currentIndex, k)
		currentIndex += count
		if count == 32 {
			continue
		}
		if string(ch.Slice(offset+currentIndex, 2)) == "\r\n" {
			currentIndex += 2
			chunkMetadataSize = currentIndex
			if chunkDataSize > 0 {
				return ChunkMetadataExpectingData, chunkDataSize, chunkMetadataSize
			}
			if currentIndex+2 <= avail && string(ch.Slice(offset+currentIndex, 2)) == "\r\n" {
				chunkMetadataSize += 2
				return ChunkMetadataParsedRequest, 0, chunkMetadataSize
			}
			if currentIndex+2 <= avail {
				return ChunkMetadataExpectingTrailer, 0, chunkMetadataSize
			}
			return ChunkMetadataNeedsMoreData, 0, chunkMetadataSize
		}
		if currentIndex+2 == avail && ch.PeekByte(offset+currentIndex) != '\r' {
			// The last two buffered bytes are still ordinary extension
			// bytes; the CRLF has not arrived yet.
			return ChunkMetadataNeedsMoreData, chunkDataSize, 0
		}
		return ChunkMetadataFailed, 0, 0
	}
}
