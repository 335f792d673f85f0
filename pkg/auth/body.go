package auth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes caps the request body the gateway buffers for
// signature verification.
const DefaultMaxBodyBytes int64 = 10 << 20

// ErrBodyTooLarge is returned by [ReadBody] when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("auth: request body too large")

// Body is a request body materialized into memory. The bytes are captured
// once; every call to [Body.Reader] returns an independent reader so that
// consumers never share a stream position.
type Body struct {
	data []byte
}

// ReadBody drains and closes r.Body, reading at most limit bytes. A limit
// of zero or less means [DefaultMaxBodyBytes]. A nil body yields an empty
// Body.
func ReadBody(r *http.Request, limit int64) (*Body, error) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	if r.Body == nil || r.Body == http.NoBody {
		return &Body{}, nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("auth: reading request body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return &Body{data: data}, nil
}

// Bytes returns the buffered content. Callers must not modify it.
func (b *Body) Bytes() []byte { return b.data }

// Len returns the body length in bytes.
func (b *Body) Len() int { return len(b.data) }

// Reader returns a fresh reader positioned at the start of the body.
func (b *Body) Reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b.data))
}

// Attach installs the buffered body on r so that downstream handlers and
// transports can read it, and re-read it through r.GetBody.
func (b *Body) Attach(r *http.Request) {
	r.Body = b.Reader()
	r.GetBody = func() (io.ReadCloser, error) { return b.Reader(), nil }
	r.ContentLength = int64(len(b.data))
}
