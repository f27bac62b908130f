package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisk-server/brisk/http1"
)

func Test_RouterMatching(t *testing.T) {
	r := newRouter()
	named := func(name string) Handler {
		return func(*http1.Request, *Broker) { _ = name }
	}
	require.NoError(t, r.add(http1.MethodGet, "/hello", named("hello")))
	require.NoError(t, r.add(http1.MethodGet, "/static/*", named("static")))
	require.NoError(t, r.add(http1.MethodPost, "/upload/**", named("upload")))

	assert.NotNil(t, r.match(http1.MethodGet, "/hello"))
	assert.Nil(t, r.match(http1.MethodPost, "/hello"))
	assert.NotNil(t, r.match(http1.MethodGet, "/static/app.js"))
	assert.Nil(t, r.match(http1.MethodGet, "/static/css/app.css"))
	assert.NotNil(t, r.match(http1.MethodPost, "/upload/a/b/c"))
	assert.Nil(t, r.match(http1.MethodGet, "/missing"))
}

func Test_RouterRejectsBadPatterns(t *testing.T) {
	r := newRouter()
	assert.Error(t, r.add(http1.MethodGet, "", func(*http1.Request, *Broker) {}))
	assert.Error(t, r.add(http1.MethodGet, "/x", nil))
	assert.Error(t, r.add(http1.MethodGet, "/bad[", func(*http1.Request, *Broker) {}))
}
