package http1

// Method is the request method. Only the methods below are accepted;
// anything else fails the request line.
type Method int

const (
	MethodGet Method = iota
	MethodPut
	MethodPost
	MethodPatch
	MethodDelete
	MethodHead
	MethodOptions
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPut:
		return "PUT"
	case MethodPost:
		return "POST"
	case MethodPatch:
		return "PATCH"
	case MethodDelete:
		return "DELETE"
	case MethodHead:
		return "HEAD"
	case MethodOptions:
		return "OPTIONS"
	}
	return "UNKNOWN"
}

// BodyType tells how the request carries its payload.
type BodyType int

const (
	NoBody BodyType = iota
	NotChunked
	Chunked
)

// Request is the parsed view over the current request. Its slices
// point into the channel's read buffer and stay valid until the
// request completes and the next one starts.
type Request struct {
	method   Method
	path     []byte
	query    []byte
	headers  *FieldBlock
	trailers *FieldBlock

	bodyType        BodyType
	requestBodySize int64
	pendingBodySize int64
	body            []byte
	complete        bool
}

// Method returns the request method.
func (r *Request) Method() Method { return r.method }

// Path returns the request-target up to the first "?".
func (r *Request) Path() []byte { return r.path }

// Query returns the request-target after the first "?", empty when
// there is none.
func (r *Request) Query() []byte { return r.query }

// HasHeader reports whether the named header is present.
func (r *Request) HasHeader(name string) bool { return r.headers.HasField(name) }

// HeaderCount returns how many lines carry the named header.
func (r *Request) HeaderCount(name string) int { return r.headers.FieldCount(name) }

// Header returns the pos-th (1-based) trimmed value of the named
// header, or nil.
func (r *Request) Header(name string, pos int) []byte { return r.headers.FieldValue(name, pos) }

// HeadersCount returns the total header line count.
func (r *Request) HeadersCount() int { return r.headers.LinesCount() }

// BodyType returns how the payload is framed.
func (r *Request) BodyType() BodyType { return r.bodyType }

// RequestBodySize returns the declared payload size for identity
// bodies and the bytes received so far for chunked ones.
func (r *Request) RequestBodySize() int64 { return r.requestBodySize }

// PendingBodySize returns the bytes still owed for identity bodies;
// it is always zero between chunk deliveries.
func (r *Request) PendingBodySize() int64 { return r.pendingBodySize }

// Body returns the most recently delivered payload bytes.
func (r *Request) Body() []byte { return r.body }

// IsComplete reports whether the whole request has been received.
func (r *Request) IsComplete() bool { return r.complete }

// HasTrailer reports whether the named trailer is present.
func (r *Request) HasTrailer(name string) bool { return r.trailers.HasField(name) }

// TrailerCount returns how many lines carry the named trailer.
func (r *Request) TrailerCount(name string) int { return r.trailers.FieldCount(name) }

// Trailer returns the pos-th (1-based) trimmed value of the named
// trailer, or nil.
func (r *Request) Trailer(name string, pos int) []byte { return r.trailers.FieldValue(name, pos) }

// TrailersCount returns the total trailer line count.
func (r *Request) TrailersCount() int { return r.trailers.LinesCount() }
