package http1

import (
	"bytes"
	"strconv"

	"github.com/brisk-server/brisk/internal/channel"
	"github.com/brisk-server/brisk/internal/ring"
)

// ParseStatus is the outcome of one Parse call.
type ParseStatus int

const (
	// ParsedRequest reports that the request metadata finished
	// parsing: the header block of any request, and, for a chunked
	// request, a second time once its last chunk and trailers arrived.
	ParsedRequest ParseStatus = iota
	// ParsedBody reports that payload bytes were delivered through
	// Request.Body.
	ParsedBody
	// NeedsMoreData reports that no progress is possible until the
	// channel receives more bytes.
	NeedsMoreData
	// Failed reports a terminal parsing failure; see Error.
	Failed
)

// ParseError classifies a terminal failure.
type ParseError int

const (
	NoError ParseError = iota
	// MalformedRequest marks a grammar or semantic violation.
	MalformedRequest
	// TooBigRequest marks a configured limit exceeded.
	TooBigRequest
)

type parserState int

const (
	stateExpectRequestLine parserState = iota
	stateExpectHeaders
	stateExpectBody
	stateExpectChunkMetadata
	stateExpectChunkData
	stateExpectChunkCRLF
	stateExpectTrailers
	stateDone
	stateFailed
)

// statusNone makes a state handler ask the Parse loop to continue
// with the next state.
const statusNone ParseStatus = -1

var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

var methodTokens = []struct {
	lit    string
	method Method
}{
	{"GET ", MethodGet},
	{"PUT ", MethodPut},
	{"POST ", MethodPost},
	{"PATCH ", MethodPatch},
	{"DELETE ", MethodDelete},
	{"HEAD ", MethodHead},
	{"OPTIONS ", MethodOptions},
}

// RequestParser consumes bytes incrementally from the channel's read
// buffer and exposes parsed requests. The bytes of the request under
// parse stay in the buffer until the request completes, keeping the
// field block and body views alive for the handler; they are skipped
// when the next request starts.
type RequestParser struct {
	ch     *channel.IOChannel
	limits Limits

	state    parserState
	parseErr ParseError

	req      Request
	headers  FieldBlock
	trailers FieldBlock

	// cursor is the read-buffer index of the first unexamined byte of
	// the current request.
	cursor int
	// requestSize counts every byte consumed as part of the current
	// request, including identity-body bytes already buffered when
	// the header block finished.
	requestSize   int64
	bodyCounted   int64
	bodyDelivered int64
	pendingChunk  int64
}

// NewRequestParser binds a parser to its channel under the given
// limits.
func NewRequestParser(ch *channel.IOChannel, limits Limits) *RequestParser {
	p := &RequestParser{ch: ch, limits: limits}
	p.headers = FieldBlock{ch: ch}
	p.trailers = FieldBlock{ch: ch}
	p.req.headers = &p.headers
	p.req.trailers = &p.trailers
	return p
}

// Request returns the view over the request being parsed.
func (p *RequestParser) Request() *Request { return &p.req }

// Error returns the failure classification once Parse reported
// Failed.
func (p *RequestParser) Error() ParseError { return p.parseErr }

// RequestSize returns the bytes accounted to the current request so
// far. After a request completes this equals the stream offset of the
// next request.
func (p *RequestParser) RequestSize() int64 { return p.requestSize }

// InProgress reports whether bytes of an unfinished request have
// arrived: true between the first byte of a request and its
// completion.
func (p *RequestParser) InProgress() bool {
	switch p.state {
	case stateFailed:
		return false
	case stateDone, stateExpectRequestLine:
		return p.ch.DataAvailable() > p.cursor
	default:
		return true
	}
}

// Parse advances the state machine as far as the buffered bytes
// allow and reports what happened.
func (p *RequestParser) Parse() ParseStatus {
	for {
		var status ParseStatus
		switch p.state {
		case stateFailed:
			return Failed
		case stateDone:
			p.beginNextRequest()
			continue
		case stateExpectRequestLine:
			status = p.parseRequestLine()
		case stateExpectHeaders:
			status = p.parseFieldLines(&p.headers, false)
		case stateExpectBody:
			status = p.parseIdentityBody()
		case stateExpectChunkMetadata:
			status = p.parseChunkMetadata()
		case stateExpectChunkData:
			status = p.parseChunkData()
		case stateExpectChunkCRLF:
			status = p.parseChunkCRLF()
		case stateExpectTrailers:
			status = p.parseFieldLines(&p.trailers, true)
		}
		if status != statusNone {
			return status
		}
	}
}

func (p *RequestParser) fail(kind ParseError) ParseStatus {
	p.parseErr = kind
	p.state = stateFailed
	return Failed
}

// beginNextRequest drops the completed request's bytes from the
// buffer and resets per-request state.
func (p *RequestParser) beginNextRequest() {
	p.ch.Skip(p.cursor)
	p.cursor = 0
	p.requestSize = 0
	p.bodyCounted = 0
	p.bodyDelivered = 0
	p.pendingChunk = 0
	p.headers.Reset(0)
	p.trailers.Reset(0)
	p.req = Request{headers: &p.headers, trailers: &p.trailers}
	p.state = stateExpectRequestLine
}

func (p *RequestParser) parseRequestLine() ParseStatus {
	avail := p.ch.DataAvailable()
	if avail == 0 {
		return NeedsMoreData
	}

	matched := -1
	partial := false
	for i, mt := range methodTokens {
		n := min(len(mt.lit), avail)
		if string(p.ch.Slice(0, n)) == mt.lit[:n] {
			if n == len(mt.lit) {
				matched = i
				break
			}
			partial = true
		}
	}
	if matched < 0 {
		if partial {
			return NeedsMoreData
		}
		return p.fail(MalformedRequest)
	}
	method := methodTokens[matched].method
	targetStart := len(methodTokens[matched].lit)
	if targetStart >= avail {
		return NeedsMoreData
	}

	var targetLen int
	var path, query []byte
	if method == MethodOptions && p.ch.PeekByte(targetStart) == '*' {
		if targetStart+1 >= avail {
			return NeedsMoreData
		}
		if p.ch.PeekByte(targetStart+1) != ' ' {
			return p.fail(MalformedRequest)
		}
		targetLen = 1
		path = p.ch.Slice(targetStart, 1)
	} else {
		if p.ch.PeekByte(targetStart) != '/' {
			return p.fail(MalformedRequest)
		}
		it := ring.NewWideIterator(p.ch.ReadBuffer())
		targetLen = scanUntil(it, targetStart, avail-targetStart, stopNotTargetChar)
		if p.limits.MaxURLSize > 0 && int64(targetLen) > p.limits.MaxURLSize {
			return p.fail(TooBigRequest)
		}
		if targetStart+targetLen >= avail {
			return NeedsMoreData
		}
		if p.ch.PeekByte(targetStart+targetLen) != ' ' {
			return p.fail(MalformedRequest)
		}
		target := p.ch.Slice(targetStart, targetLen)
		queryStart := -1
		for i := 0; i < len(target); i++ {
			switch target[i] {
			case '%':
				if i+2 >= len(target) || !isHexDigit(target[i+1]) || !isHexDigit(target[i+2]) {
					return p.fail(MalformedRequest)
				}
			case '?':
				if queryStart < 0 {
					queryStart = i
				}
			}
		}
		path = target
		if queryStart >= 0 {
			path = target[:queryStart]
			query = target[queryStart+1:]
		}
	}

	versionStart := targetStart + targetLen + 1
	const versionLine = "HTTP/1.1\r\n"
	have := min(len(versionLine), avail-versionStart)
	if have > 0 && string(p.ch.Slice(versionStart, have)) != versionLine[:have] {
		return p.fail(MalformedRequest)
	}
	if have < len(versionLine) {
		return NeedsMoreData
	}

	p.req.method = method
	p.req.path = path
	p.req.query = query
	p.cursor = versionStart + len(versionLine)
	p.requestSize = int64(p.cursor)
	if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
		return p.fail(TooBigRequest)
	}
	p.headers.Reset(p.cursor)
	p.state = stateExpectHeaders
	return statusNone
}

// parseFieldLines handles both the header and the trailer section;
// the two differ only in their limits and in what happens at the
// terminating empty line.
func (p *RequestParser) parseFieldLines(block *FieldBlock, isTrailer bool) ParseStatus {
	maxNameSize := p.limits.MaxHeaderNameSize
	maxValueSize := p.limits.MaxHeaderValueSize
	maxLineCount := p.limits.MaxHeaderLineCount
	if isTrailer {
		maxNameSize = p.limits.MaxTrailerNameSize
		maxValueSize = p.limits.MaxTrailerValueSize
		maxLineCount = p.limits.MaxTrailerLineCount
	}
	for {
		avail := p.ch.DataAvailable()
		if avail-p.cursor < 2 {
			return NeedsMoreData
		}
		if p.ch.PeekByte(p.cursor) == '\r' {
			if p.ch.PeekByte(p.cursor+1) != '\n' {
				return p.fail(MalformedRequest)
			}
			p.cursor += 2
			p.requestSize += 2
			if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
				return p.fail(TooBigRequest)
			}
			if isTrailer {
				p.req.complete = true
				p.state = stateDone
				return ParsedRequest
			}
			return p.finishHeaders()
		}

		it := ring.NewWideIterator(p.ch.ReadBuffer())
		nameStart := p.cursor
		nameLen := scanUntil(it, nameStart, avail-nameStart, stopNotTokenChar)
		if maxNameSize > 0 && int64(nameLen) > maxNameSize {
			return p.fail(TooBigRequest)
		}
		if nameStart+nameLen >= avail {
			return NeedsMoreData
		}
		if nameLen == 0 || p.ch.PeekByte(nameStart+nameLen) != ':' {
			return p.fail(MalformedRequest)
		}

		valueStart := nameStart + nameLen + 1
		valueLen := scanUntil(it, valueStart, avail-valueStart, stopNotFieldContent)
		if maxValueSize > 0 && int64(valueLen) > maxValueSize {
			return p.fail(TooBigRequest)
		}
		if valueStart+valueLen >= avail {
			return NeedsMoreData
		}
		if p.ch.PeekByte(valueStart+valueLen) != '\r' {
			return p.fail(MalformedRequest)
		}
		if valueStart+valueLen+1 >= avail {
			// Lone CR so far; only the next byte decides.
			return NeedsMoreData
		}
		if p.ch.PeekByte(valueStart+valueLen+1) != '\n' {
			return p.fail(MalformedRequest)
		}

		if int64(block.LinesCount())+1 > min(maxLineCount, MaxFieldLines) {
			return p.fail(TooBigRequest)
		}
		block.AddLine(nameStart, nameStart+nameLen, valueStart, valueStart+valueLen)
		lineSize := int64(valueStart + valueLen + 2 - p.cursor)
		p.cursor = valueStart + valueLen + 2
		p.requestSize += lineSize
		if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
			return p.fail(TooBigRequest)
		}
	}
}

func (p *RequestParser) finishHeaders() ParseStatus {
	if p.headers.FieldCount("Host") != 1 {
		return p.fail(MalformedRequest)
	}

	contentLengths := p.headers.FieldCount("Content-Length")
	transferEncodings := p.headers.FieldCount("Transfer-Encoding")
	if transferEncodings > 1 {
		return p.fail(MalformedRequest)
	}
	if transferEncodings == 1 && contentLengths > 0 {
		return p.fail(MalformedRequest)
	}

	switch {
	case transferEncodings == 1:
		value := p.headers.FieldValue("Transfer-Encoding", 1)
		if !transferEncodingEndsWithChunked(value) {
			return p.fail(MalformedRequest)
		}
		p.req.bodyType = Chunked
		p.state = stateExpectChunkMetadata
	case contentLengths > 0:
		size, ok := p.contentLengthValue(contentLengths)
		if !ok {
			return p.fail(MalformedRequest)
		}
		if p.limits.MaxBodySize > 0 && size > p.limits.MaxBodySize {
			return p.fail(TooBigRequest)
		}
		p.req.bodyType = NotChunked
		p.req.requestBodySize = size
		p.req.pendingBodySize = size
		if size == 0 {
			p.req.complete = true
			p.state = stateDone
		} else {
			p.state = stateExpectBody
			// Body bytes that arrived with the header block count
			// against the request size right away.
			buffered := int64(p.ch.DataAvailable() - p.cursor)
			counted := min(size, buffered)
			if counted > 0 {
				p.requestSize += counted
				p.bodyCounted = counted
				if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
					return p.fail(TooBigRequest)
				}
			}
		}
	default:
		p.req.bodyType = NoBody
		p.req.complete = true
		p.state = stateDone
	}

	for i := 1; i <= p.headers.FieldCount("Expect"); i++ {
		if asciiEqualFold(p.headers.FieldValue("Expect", i), "100-continue") {
			p.ch.Write(continueResponse)
			break
		}
	}
	return ParsedRequest
}

// contentLengthValue validates every Content-Length occurrence and
// returns the shared value. Each occurrence must be 1 to 19 ASCII
// digits after trimming, and all occurrences must agree.
func (p *RequestParser) contentLengthValue(occurrences int) (int64, bool) {
	var size int64
	for i := 1; i <= occurrences; i++ {
		value := p.headers.FieldValue("Content-Length", i)
		if len(value) == 0 || len(value) > 19 {
			return 0, false
		}
		for _, c := range value {
			if !isDigit(c) {
				return 0, false
			}
		}
		parsed, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, false
		}
		if i == 1 {
			size = parsed
		} else if parsed != size {
			return 0, false
		}
	}
	return size, true
}

func transferEncodingEndsWithChunked(value []byte) bool {
	const token = "chunked"
	if !bytes.HasSuffix(value, []byte(token)) {
		return false
	}
	rest := value[:len(value)-len(token)]
	if len(rest) == 0 {
		return true
	}
	for len(rest) > 0 && (rest[len(rest)-1] == ' ' || rest[len(rest)-1] == '\t') {
		rest = rest[:len(rest)-1]
	}
	return len(rest) > 0 && rest[len(rest)-1] == ','
}

func (p *RequestParser) parseIdentityBody() ParseStatus {
	buffered := int64(p.ch.DataAvailable() - p.cursor)
	n := min(p.req.pendingBodySize, buffered)
	if n <= 0 {
		return NeedsMoreData
	}
	p.req.body = p.ch.Slice(p.cursor, int(n))
	p.cursor += int(n)
	p.req.pendingBodySize -= n
	p.bodyDelivered += n
	if p.bodyDelivered > p.bodyCounted {
		p.requestSize += p.bodyDelivered - p.bodyCounted
		p.bodyCounted = p.bodyDelivered
		if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
			return p.fail(TooBigRequest)
		}
	}
	if p.req.pendingBodySize == 0 {
		p.req.complete = true
		p.state = stateDone
	}
	return ParsedBody
}

func (p *RequestParser) parseChunkMetadata() ParseStatus {
	status, dataSize, metaSize := parseChunkMetadata(p.ch, p.cursor)
	limit := p.limits.MaxChunkMetadataSize
	switch status {
	case ChunkMetadataNeedsMoreData:
		// Everything buffered past the cursor may still belong to the
		// metadata; once it cannot fit the limit the request is over
		// budget no matter how it continues. The two-byte slack covers
		// the undecided final CRLF pair of a last chunk.
		if limit > 0 && int64(p.ch.DataAvailable()-p.cursor) > limit+2 {
			return p.fail(TooBigRequest)
		}
		return NeedsMoreData
	case ChunkMetadataFailed:
		return p.fail(MalformedRequest)
	}

	if limit > 0 && int64(metaSize) > limit {
		return p.fail(TooBigRequest)
	}
	p.cursor += metaSize
	p.requestSize += int64(metaSize)
	if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
		return p.fail(TooBigRequest)
	}

	switch status {
	case ChunkMetadataExpectingData:
		if p.limits.MaxBodySize > 0 && p.req.requestBodySize+dataSize > p.limits.MaxBodySize {
			return p.fail(TooBigRequest)
		}
		p.pendingChunk = dataSize
		p.state = stateExpectChunkData
		return statusNone
	case ChunkMetadataParsedRequest:
		p.req.body = nil
		p.req.complete = true
		p.state = stateDone
		return ParsedRequest
	default: // ChunkMetadataExpectingTrailer
		p.trailers.Reset(p.cursor)
		p.state = stateExpectTrailers
		return statusNone
	}
}

func (p *RequestParser) parseChunkData() ParseStatus {
	buffered := int64(p.ch.DataAvailable() - p.cursor)
	n := min(p.pendingChunk, buffered)
	if n <= 0 {
		return NeedsMoreData
	}
	p.req.body = p.ch.Slice(p.cursor, int(n))
	p.cursor += int(n)
	p.pendingChunk -= n
	p.req.requestBodySize += n
	p.requestSize += n
	if p.limits.MaxBodySize > 0 && p.req.requestBodySize > p.limits.MaxBodySize {
		return p.fail(TooBigRequest)
	}
	if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
		return p.fail(TooBigRequest)
	}
	if p.pendingChunk == 0 {
		p.state = stateExpectChunkCRLF
	}
	return ParsedBody
}

func (p *RequestParser) parseChunkCRLF() ParseStatus {
	avail := p.ch.DataAvailable()
	if avail-p.cursor < 1 {
		return NeedsMoreData
	}
	if p.ch.PeekByte(p.cursor) != '\r' {
		return p.fail(MalformedRequest)
	}
	if avail-p.cursor < 2 {
		return NeedsMoreData
	}
	if p.ch.PeekByte(p.cursor+1) != '\n' {
		return p.fail(MalformedRequest)
	}
	p.cursor += 2
	p.requestSize += 2
	if p.limits.MaxRequestSize > 0 && p.requestSize > p.limits.MaxRequestSize {
		return p.fail(TooBigRequest)
	}
	p.state = stateExpectChunkMetadata
	return statusNone
}

