package http1

import (
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_OptionsRejectNegativeValues(t *testing.T) {
	o := NewOptions()
	for _, opt := range []Option{
		WorkerCount, TCPServerBacklogSize, IdleTimeoutInSecs, RequestTimeoutInSecs,
		MaxURLSize, MaxHeaderNameSize, MaxHeaderValueSize, MaxHeaderLineCount,
		MaxTrailerNameSize, MaxTrailerValueSize, MaxTrailerLineCount,
		MaxChunkMetadataSize, MaxRequestSize, MaxBodySize, MaxConnectionCount,
	} {
		assert.False(t, o.Set(opt, -1))
		assert.Contains(t, o.ErrorMessage(), "non-negative")
	}
}

func Test_OptionsWorkerCount(t *testing.T) {
	o := NewOptions()
	assert.True(t, o.Set(WorkerCount, 0))
	assert.Equal(t, int64(0), o.Get(WorkerCount))
	assert.True(t, o.Set(WorkerCount, int64(runtime.NumCPU())))
	assert.False(t, o.Set(WorkerCount, int64(runtime.NumCPU())+1))
	// The stored value is untouched by the failed set.
	assert.Equal(t, int64(runtime.NumCPU()), o.Get(WorkerCount))
}

func Test_OptionsBacklog(t *testing.T) {
	o := NewOptions()
	assert.False(t, o.Set(TCPServerBacklogSize, 0))
	assert.Contains(t, o.ErrorMessage(), "positive")
	assert.True(t, o.Set(TCPServerBacklogSize, 128))
	assert.False(t, o.Set(TCPServerBacklogSize, int64(math.MaxInt32)+1))
	assert.Equal(t, int64(128), o.Get(TCPServerBacklogSize))
}

func Test_OptionsTimeouts(t *testing.T) {
	o := NewOptions()
	assert.True(t, o.Set(IdleTimeoutInSecs, 0))
	assert.True(t, o.Set(RequestTimeoutInSecs, 30))
	assert.False(t, o.Set(IdleTimeoutInSecs, int64(math.MaxInt32)+1))
	assert.Equal(t, int64(0), o.Get(IdleTimeoutInSecs))
	assert.Equal(t, int64(30), o.Get(RequestTimeoutInSecs))
}

func Test_OptionsZeroMeansUnlimitedForSizes(t *testing.T) {
	o := NewOptions()
	assert.True(t, o.Set(MaxRequestSize, 0))
	assert.Equal(t, int64(math.MaxInt64), o.Get(MaxRequestSize))

	assert.True(t, o.Set(MaxHeaderNameSize, 0))
	assert.Equal(t, int64(MaxFieldNameSize), o.Get(MaxHeaderNameSize))

	assert.True(t, o.Set(MaxHeaderLineCount, 0))
	assert.Equal(t, int64(MaxFieldLines), o.Get(MaxHeaderLineCount))
}

func Test_OptionsFieldBounds(t *testing.T) {
	o := NewOptions()
	assert.False(t, o.Set(MaxHeaderNameSize, MaxFieldNameSize+1))
	assert.False(t, o.Set(MaxTrailerValueSize, MaxFieldValueSize+1))
	assert.False(t, o.Set(MaxHeaderLineCount, MaxFieldLines+1))
	assert.True(t, o.Set(MaxTrailerLineCount, MaxFieldLines))
}

func Test_OptionsDefaults(t *testing.T) {
	o := NewOptions()
	defaults := DefaultLimits()
	assert.Equal(t, defaults.MaxURLSize, o.Get(MaxURLSize))
	assert.Equal(t, int64(1<<12), o.Get(TCPServerBacklogSize))
	assert.Equal(t, int64(runtime.NumCPU()), o.Get(WorkerCount))
	assert.Equal(t, int64(0), o.Get(MaxConnectionCount))
}

func Test_OptionsRequestLimits(t *testing.T) {
	o := NewOptions()
	o.Set(MaxURLSize, 4)
	o.Set(MaxBodySize, 1024)
	limits := o.RequestLimits()
	assert.Equal(t, int64(4), limits.MaxURLSize)
	assert.Equal(t, int64(1024), limits.MaxBodySize)
	assert.Equal(t, DefaultLimits().MaxHeaderValueSize, limits.MaxHeaderValueSize)
}
