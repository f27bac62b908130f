package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisk-server/brisk/http1"
)

// startTestServer runs a one-worker server on an ephemeral port and
// returns its address.
func startTestServer(t *testing.T, configure func(s *Server)) string {
	t.Helper()
	s := New(nil)
	require.True(t, s.SetOption(http1.WorkerCount, 1))
	if configure != nil {
		configure(s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1", 0) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("server did not stop in time")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for s.BoundPort() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Sprintf("127.0.0.1:%d", s.BoundPort())
}

func roundTrip(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	var response strings.Builder
	for {
		line, err := reader.ReadString('\n')
		response.WriteString(line)
		if err != nil || line == "\r\n" {
			break
		}
	}
	// Read the advertised body, if any.
	var contentLength int
	for _, line := range strings.Split(response.String(), "\r\n") {
		if n, _ := fmt.Sscanf(line, "Content-Length: %d", &contentLength); n == 1 {
			break
		}
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(reader, body); err == nil {
			response.Write(body)
		}
	}
	return response.String()
}

func Test_ServerServesRoute(t *testing.T) {
	addr := startTestServer(t, func(s *Server) {
		require.NoError(t, s.AddRoute(http1.MethodGet, "/hello", func(_ *http1.Request, broker *Broker) {
			broker.WriteResponse([]byte("Hello World!"))
		}))
	})

	response := roundTrip(t, addr, "GET /hello HTTP/1.1\r\nHost: host.com\r\n\r\n")
	assert.Contains(t, response, "HTTP/1.1 200 OK")
	assert.Contains(t, response, "Hello World!")
}

func Test_ServerRespondsNotFound(t *testing.T) {
	addr := startTestServer(t, nil)
	response := roundTrip(t, addr, "GET /missing HTTP/1.1\r\nHost: host.com\r\n\r\n")
	assert.Contains(t, response, "HTTP/1.1 404 Not Found")
}

func Test_ServerRejectsMalformedRequest(t *testing.T) {
	addr := startTestServer(t, nil)
	response := roundTrip(t, addr, "BOGUS /x HTTP/1.1\r\nHost: host.com\r\n\r\n")
	assert.Contains(t, response, "HTTP/1.1 400 Bad Request")
}

func Test_ServerRejectsTooBigRequest(t *testing.T) {
	addr := startTestServer(t, func(s *Server) {
		require.True(t, s.SetOption(http1.MaxURLSize, 4))
	})
	response := roundTrip(t, addr, "GET /aaaaaaaa HTTP/1.1\r\nHost: host.com\r\n\r\n")
	assert.Contains(t, response, "HTTP/1.1 413 Content Too Large")
}

func Test_ServerEchoesBody(t *testing.T) {
	addr := startTestServer(t, func(s *Server) {
		require.NoError(t, s.AddRoute(http1.MethodPost, "/echo", func(_ *http1.Request, broker *Broker) {
			broker.WriteResponse(append([]byte(nil), broker.RequestBody()...))
		}))
	})

	response := roundTrip(t, addr, "POST /echo HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello")
	assert.Contains(t, response, "HTTP/1.1 200 OK")
	assert.Contains(t, response, "hello")
}

func Test_ServerChunkedUpload(t *testing.T) {
	addr := startTestServer(t, func(s *Server) {
		require.NoError(t, s.AddRoute(http1.MethodPut, "/upload/**", func(req *http1.Request, broker *Broker) {
			broker.WriteResponse([]byte(fmt.Sprintf("got %d bytes", req.RequestBodySize())))
		}))
	})

	response := roundTrip(t, addr,
		"PUT /upload/x HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nHello\r\n7\r\n World!\r\n0\r\n\r\n")
	assert.Contains(t, response, "got 12 bytes")
}

func Test_ServerStreamsChunkedResponse(t *testing.T) {
	addr := startTestServer(t, func(s *Server) {
		require.NoError(t, s.AddRoute(http1.MethodGet, "/stream", func(_ *http1.Request, broker *Broker) {
			broker.CloseAfterResponse()
			broker.BeginChunkedResponse(200)
			broker.WriteChunk([]byte("Hello"))
			broker.WriteChunk([]byte(" World!"))
			broker.EndChunkedResponse()
		}))
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte("GET /stream HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.NoError(t, err)

	// Connection: close lets the whole response be read to EOF.
	raw, _ := io.ReadAll(conn)
	response := string(raw)
	assert.Contains(t, response, "HTTP/1.1 200 OK")
	assert.Contains(t, response, "Transfer-Encoding: chunked\r\n")
	assert.Contains(t, response, "Connection: close\r\n")
	assert.Contains(t, response, "5\r\nHello\r\n7\r\n World!\r\n0\r\n\r\n")
}

func Test_ServerKeepAlive(t *testing.T) {
	addr := startTestServer(t, func(s *Server) {
		require.NoError(t, s.AddRoute(http1.MethodGet, "/n", func(_ *http1.Request, broker *Broker) {
			broker.WriteResponse([]byte("ok"))
		}))
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		_, err = conn.Write([]byte("GET /n HTTP/1.1\r\nHost: h\r\n\r\n"))
		require.NoError(t, err)
		status, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Contains(t, status, "200 OK")
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
		}
		body := make([]byte, 2)
		_, err = io.ReadFull(reader, body)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
	}
}

func Test_ServerIdleTimeout(t *testing.T) {
	addr := startTestServer(t, func(s *Server) {
		require.True(t, s.SetOption(http1.IdleTimeoutInSecs, 1))
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	response, _ := io.ReadAll(conn)
	assert.Contains(t, string(response), "HTTP/1.1 408 Request Timeout")
}
