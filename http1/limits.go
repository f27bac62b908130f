package http1

import "math"

// Limits bounds the parser's work. Every field holds an effective
// bound; "unlimited" is expressed as the type maximum rather than
// zero so the parser compares without special cases.
type Limits struct {
	MaxURLSize           int64
	MaxHeaderNameSize    int64
	MaxHeaderValueSize   int64
	MaxHeaderLineCount   int64
	MaxTrailerNameSize   int64
	MaxTrailerValueSize  int64
	MaxTrailerLineCount  int64
	MaxChunkMetadataSize int64
	MaxRequestSize       int64
	MaxBodySize          int64
}

// DefaultLimits returns the bounds applied when no option overrides
// them.
func DefaultLimits() Limits {
	return Limits{
		MaxURLSize:           8192,
		MaxHeaderNameSize:    1024,
		MaxHeaderValueSize:   8192,
		MaxHeaderLineCount:   MaxFieldLines,
		MaxTrailerNameSize:   1024,
		MaxTrailerValueSize:  8192,
		MaxTrailerLineCount:  MaxFieldLines,
		MaxChunkMetadataSize: 1024,
		MaxRequestSize:       math.MaxInt64,
		MaxBodySize:          math.MaxInt64,
	}
}
