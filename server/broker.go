package server

import (
	"strconv"
	"time"

	"github.com/brisk-server/brisk/http1"
	"github.com/brisk-server/brisk/internal/channel"
	"github.com/brisk-server/brisk/internal/hostaddr"
)

var statusReasons = map[int]string{
	200: "OK",
	204: "No Content",
	400: "Bad Request",
	404: "Not Found",
	408: "Request Timeout",
	413: "Content Too Large",
	500: "Internal Server Error",
}

// httpTimeFormat is the IMF-fixdate layout carried by the Date
// header.
const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Broker is the response side handed to request handlers. It writes
// directly into the connection's channel, so everything it produces
// is ordered with the requests of that connection. Responses either
// carry a Content-Length (WriteResponse/WriteStatusResponse) or
// stream chunked (BeginChunkedResponse/WriteChunk/EndChunkedResponse).
type Broker struct {
	ch      *channel.IOChannel
	fetcher *hostaddr.Fetcher
	req     *http1.Request

	body        []byte
	wroteStatus bool
	chunking    bool
	closeAfter  bool

	lookups []pendingLookup
}

type pendingLookup struct {
	host     string
	receiver hostaddr.Receiver
}

// RequestBody returns the accumulated payload of the current request.
func (b *Broker) RequestBody() []byte { return b.body }

// CloseAfterResponse marks the response with "Connection: close" and
// makes the connection close once the response has drained. It must
// be called before the response head is written.
func (b *Broker) CloseAfterResponse() { b.closeAfter = true }

// WriteResponse sends a 200 response carrying body.
func (b *Broker) WriteResponse(body []byte) {
	b.WriteStatusResponse(200, body)
}

// WriteStatusResponse sends a fixed-size response with the given
// status code. HEAD responses advertise the payload size but omit the
// payload.
func (b *Broker) WriteStatusResponse(status int, body []byte) {
	if b.wroteStatus {
		return
	}
	b.wroteStatus = true
	b.ch.WriteString(b.head(status) + "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	if len(body) > 0 && !b.isHead() {
		b.ch.Write(body)
	}
}

// BeginChunkedResponse starts a chunked streaming response. The
// payload is delivered through WriteChunk and terminated by
// EndChunkedResponse; a handler that returns without ending the
// stream has it ended for it.
func (b *Broker) BeginChunkedResponse(status int) {
	if b.wroteStatus {
		return
	}
	b.wroteStatus = true
	b.chunking = true
	b.ch.WriteString(b.head(status) + "Transfer-Encoding: chunked\r\n\r\n")
}

// WriteChunk streams one chunk of the response payload. Empty chunks
// are skipped: a zero-size chunk would terminate the stream.
func (b *Broker) WriteChunk(p []byte) {
	if !b.chunking || len(p) == 0 || b.isHead() {
		return
	}
	b.ch.WriteString(strconv.FormatInt(int64(len(p)), 16) + "\r\n")
	b.ch.Write(p)
	b.ch.WriteString("\r\n")
}

// EndChunkedResponse terminates the chunked stream with the zero-size
// last chunk.
func (b *Broker) EndChunkedResponse() {
	if !b.chunking {
		return
	}
	b.chunking = false
	if !b.isHead() {
		b.ch.WriteString("0\r\n\r\n")
	}
}

// head builds the status line and the headers shared by every
// response shape.
func (b *Broker) head(status int) string {
	reason, ok := statusReasons[status]
	if !ok {
		reason = "OK"
	}
	head := "HTTP/1.1 " + strconv.Itoa(status) + " " + reason + "\r\n" +
		"Server: brisk\r\n" +
		"Date: " + time.Now().UTC().Format(httpTimeFormat) + "\r\n"
	if b.closeAfter {
		head += "Connection: close\r\n"
	}
	return head
}

func (b *Broker) isHead() bool {
	return b.req != nil && b.req.Method() == http1.MethodHead
}

// LookupHost starts a coalesced host resolution on the connection's
// worker; cb runs on the same worker. Pending lookups are canceled
// when the connection closes.
func (b *Broker) LookupHost(host string, cb func(addresses []string)) {
	var receiver hostaddr.Receiver
	receiver = b.fetcher.AddHostLookup(host, func(addresses []string, _ any) {
		b.dropLookup(receiver)
		cb(addresses)
	}, nil)
	if receiver != 0 {
		b.lookups = append(b.lookups, pendingLookup{host: host, receiver: receiver})
	}
}

func (b *Broker) dropLookup(receiver hostaddr.Receiver) {
	for i := range b.lookups {
		if b.lookups[i].receiver == receiver {
			b.lookups = append(b.lookups[:i], b.lookups[i+1:]...)
			return
		}
	}
}

// cancelLookups removes every pending receiver; called when the
// connection closes.
func (b *Broker) cancelLookups() {
	for _, lk := range b.lookups {
		b.fetcher.RemoveHostLookup(lk.host, lk.receiver)
	}
	b.lookups = nil
}

func (b *Broker) reset(req *http1.Request) {
	b.req = req
	b.body = b.body[:0]
	b.wroteStatus = false
	b.chunking = false
	b.closeAfter = false
}
