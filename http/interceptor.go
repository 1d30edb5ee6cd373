package http

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
)

// responseInterceptor records the status written by the handler and, while buffering is
// set, holds the body back so the middleware can sign or seal it before sending.
type responseInterceptor struct {
	w http.ResponseWriter

	buffering bool
	body      bytes.Buffer

	status int
	// flushed is set once anything reached the underlying writer.
	flushed  bool
	hijacked bool
}

func (i *responseInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *responseInterceptor) Write(b []byte) (int, error) {
	// Write without WriteHeader implies 200 OK.
	if i.status == 0 {
		i.WriteHeader(http.StatusOK)
	}
	if i.buffering {
		return i.body.Write(b)
	}
	return i.w.Write(b)
}

func (i *responseInterceptor) WriteHeader(statusCode int) {
	if i.status != 0 {
		return
	}
	i.status = statusCode
	if i.buffering {
		return
	}
	i.flushed = true
	i.w.WriteHeader(statusCode)
}

func (i *responseInterceptor) statusCode() int {
	if i.status == 0 {
		return http.StatusOK
	}
	return i.status
}

// Flush implements http.Flusher to support streaming responses. Buffered responses are
// flushed when the middleware sends them.
func (i *responseInterceptor) Flush() {
	if i.buffering {
		return
	}
	if flusher, ok := i.w.(http.Flusher); ok {
		i.flushed = true
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *responseInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if i.buffering {
		return nil, nil, errors.New("hijacking not supported on a buffered response")
	}
	if hijacker, ok := i.w.(http.Hijacker); ok {
		i.hijacked = true
		i.flushed = true
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *responseInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (i *responseInterceptor) Unwrap() http.ResponseWriter {
	return i.w
}
