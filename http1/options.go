package http1

import (
	"fmt"
	"math"
	"runtime"
)

// Option identifies one server configuration knob.
type Option int

const (
	WorkerCount Option = iota
	TCPServerBacklogSize
	IdleTimeoutInSecs
	RequestTimeoutInSecs
	MaxURLSize
	MaxHeaderNameSize
	MaxHeaderValueSize
	MaxHeaderLineCount
	MaxTrailerNameSize
	MaxTrailerValueSize
	MaxTrailerLineCount
	MaxChunkMetadataSize
	MaxRequestSize
	MaxBodySize
	MaxConnectionCount
)

// Options stores validated server configuration. A failed Set leaves
// the stored value unchanged and records a human-readable message.
type Options struct {
	values       map[Option]int64
	errorMessage string
}

// NewOptions returns an empty option set; every Get falls back to the
// option's default.
func NewOptions() *Options {
	return &Options{values: make(map[Option]int64)}
}

// ErrorMessage returns the message recorded by the last failed Set.
func (o *Options) ErrorMessage() string { return o.errorMessage }

// Set validates and stores value for option. For size and count
// limits a value of zero selects the option's maximum, which stands
// for "unlimited". It reports whether the value was accepted.
func (o *Options) Set(option Option, value int64) bool {
	if value < 0 {
		o.errorMessage = "failed to set option: option values must be non-negative"
		return false
	}
	switch option {
	case MaxURLSize, MaxHeaderNameSize, MaxHeaderValueSize, MaxHeaderLineCount,
		MaxTrailerNameSize, MaxTrailerValueSize, MaxTrailerLineCount,
		MaxChunkMetadataSize, MaxRequestSize, MaxBodySize, MaxConnectionCount:
		if value == 0 {
			value = MaxOptionValue(option)
		}
	}
	switch option {
	case WorkerCount:
		if value > int64(idealWorkerCount()) {
			o.errorMessage = fmt.Sprintf("failed to set worker count: maximum possible value is %d", idealWorkerCount())
			return false
		}
	case TCPServerBacklogSize:
		if value == 0 {
			o.errorMessage = "failed to set server backlog size: value must be positive"
			return false
		}
		if value > math.MaxInt32 {
			o.errorMessage = fmt.Sprintf("failed to set server backlog size: maximum possible value is %d", math.MaxInt32)
			return false
		}
	case IdleTimeoutInSecs, RequestTimeoutInSecs:
		if value > math.MaxInt32 {
			o.errorMessage = fmt.Sprintf("failed to set timeout: maximum possible value is %d", math.MaxInt32)
			return false
		}
	case MaxHeaderNameSize, MaxTrailerNameSize:
		if value > MaxFieldNameSize {
			o.errorMessage = fmt.Sprintf("failed to set limit on field name size: maximum possible value is %d", MaxFieldNameSize)
			return false
		}
	case MaxHeaderValueSize, MaxTrailerValueSize:
		if value > MaxFieldValueSize {
			o.errorMessage = fmt.Sprintf("failed to set limit on field value size: maximum possible value is %d", MaxFieldValueSize)
			return false
		}
	case MaxHeaderLineCount, MaxTrailerLineCount:
		if value > MaxFieldLines {
			o.errorMessage = fmt.Sprintf("failed to set limit on field line count: maximum possible value is %d", MaxFieldLines)
			return false
		}
	}
	o.values[option] = value
	return true
}

// Get returns the stored value for option, falling back to its
// default.
func (o *Options) Get(option Option) int64 {
	if value, ok := o.values[option]; ok {
		return value
	}
	return DefaultOptionValue(option)
}

// RequestLimits derives the parser bounds from the stored options.
func (o *Options) RequestLimits() Limits {
	return Limits{
		MaxURLSize:           o.Get(MaxURLSize),
		MaxHeaderNameSize:    o.Get(MaxHeaderNameSize),
		MaxHeaderValueSize:   o.Get(MaxHeaderValueSize),
		MaxHeaderLineCount:   o.Get(MaxHeaderLineCount),
		MaxTrailerNameSize:   o.Get(MaxTrailerNameSize),
		MaxTrailerValueSize:  o.Get(MaxTrailerValueSize),
		MaxTrailerLineCount:  o.Get(MaxTrailerLineCount),
		MaxChunkMetadataSize: o.Get(MaxChunkMetadataSize),
		MaxRequestSize:       o.Get(MaxRequestSize),
		MaxBodySize:          o.Get(MaxBodySize),
	}
}

// DefaultOptionValue returns the value an unset option reports.
func DefaultOptionValue(option Option) int64 {
	defaults := DefaultLimits()
	switch option {
	case WorkerCount:
		return int64(idealWorkerCount())
	case TCPServerBacklogSize:
		return 1 << 12
	case IdleTimeoutInSecs, RequestTimeoutInSecs:
		return 0
	case MaxURLSize:
		return defaults.MaxURLSize
	case MaxHeaderNameSize:
		return defaults.MaxHeaderNameSize
	case MaxHeaderValueSize:
		return defaults.MaxHeaderValueSize
	case MaxHeaderLineCount:
		return defaults.MaxHeaderLineCount
	case MaxTrailerNameSize:
		return defaults.MaxTrailerNameSize
	case MaxTrailerValueSize:
		return defaults.MaxTrailerValueSize
	case MaxTrailerLineCount:
		return defaults.MaxTrailerLineCount
	case MaxChunkMetadataSize:
		return defaults.MaxChunkMetadataSize
	case MaxRequestSize:
		return defaults.MaxRequestSize
	case MaxBodySize:
		return defaults.MaxBodySize
	case MaxConnectionCount:
		return 0
	}
	return 0
}

// MaxOptionValue returns the largest value an option accepts.
func MaxOptionValue(option Option) int64 {
	switch option {
	case WorkerCount:
		return int64(idealWorkerCount())
	case TCPServerBacklogSize, IdleTimeoutInSecs, RequestTimeoutInSecs:
		return math.MaxInt32
	case MaxHeaderNameSize, MaxTrailerNameSize:
		return MaxFieldNameSize
	case MaxHeaderValueSize, MaxTrailerValueSize:
		return MaxFieldValueSize
	case MaxHeaderLineCount, MaxTrailerLineCount:
		return MaxFieldLines
	}
	return math.MaxInt64
}

func idealWorkerCount() int { return runtime.NumCPU() }
