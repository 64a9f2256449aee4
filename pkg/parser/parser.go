// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"bufio"
	"errors"
	"io"
	"strings"

	perrors "github.com/absmach/vproxy/pkg/errors"
)

// Placeholders used when the request line has fewer than three tokens.
const (
	UnknownMethod  = "UNKNOWN_METHOD"
	UnknownPath    = "UNKNOWN_PATH"
	UnknownVersion = "UNKNOWN_HTTP_VERSION"
)

// blankLine terminates the head replayed to the upstream.
const blankLine = "\r\n"

// Header is one header line of the request head.
type Header struct {
	// Name is the text before the first ':' with surrounding whitespace
	// trimmed. It is empty when the line has no colon.
	Name string

	// Raw is the line exactly as received, including its terminator.
	Raw string
}

// Value returns the text after the first ':' with surrounding whitespace trimmed.
func (h Header) Value() string {
	i := strings.IndexByte(h.Raw, ':')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(h.Raw[i+1:])
}

// Head is the start-line and header block of one HTTP request.
type Head struct {
	Method  string
	Path    string
	Version string

	// RequestLine is the start-line exactly as received, including its terminator.
	RequestLine string

	// Headers are kept in arrival order. The blank line ending the head is not kept.
	Headers []Header
}

// Bytes returns the head as it is replayed upstream: the request line and
// header lines verbatim, followed by a blank line.
func (h *Head) Bytes() []byte {
	n := len(h.RequestLine) + len(blankLine)
	for _, hdr := range h.Headers {
		n += len(hdr.Raw)
	}

	b := make([]byte, 0, n)
	b = append(b, h.RequestLine...)
	for _, hdr := range h.Headers {
		b = append(b, hdr.Raw...)
	}
	return append(b, blankLine...)
}

// ReadHead reads a request head from r, stopping after the blank line that
// ends the header block. The body is left unread.
//
// A stream that ends before the first byte yields ErrConnectionClosed. Any
// other read error or early end of stream yields ErrConnectionReadFailed.
// When maxBytes is positive, a head larger than maxBytes yields
// ErrConnectionReadFailed wrapping ErrSizeLimitExceeded.
func ReadHead(r *bufio.Reader, maxBytes int) (*Head, error) {
	lr := &lineReader{r: r, remaining: maxBytes, limited: maxBytes > 0}

	line, err := lr.readLine()
	if err != nil {
		if line == "" && errors.Is(err, io.EOF) {
			return nil, perrors.ErrConnectionClosed
		}
		return nil, readFailed(err)
	}

	head := &Head{RequestLine: line}
	head.Method, head.Path, head.Version = splitRequestLine(line)

	for {
		line, err := lr.readLine()
		if err != nil {
			return nil, readFailed(err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return head, nil
		}
		head.Headers = append(head.Headers, Header{Name: headerName(line), Raw: line})
	}
}

func splitRequestLine(line string) (method, path, version string) {
	method, path, version = UnknownMethod, UnknownPath, UnknownVersion

	fields := strings.Fields(line)
	if len(fields) > 0 {
		method = fields[0]
	}
	if len(fields) > 1 {
		path = fields[1]
	}
	if len(fields) > 2 {
		version = fields[2]
	}
	return method, path, version
}

func headerName(line string) string {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(line[:i])
}

func readFailed(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return perrors.Wrap(perrors.ErrConnectionReadFailed, err)
}

// lineReader reads '\n'-terminated lines while enforcing a byte budget.
type lineReader struct {
	r         *bufio.Reader
	remaining int
	limited   bool
}

// readLine returns the next line including its terminator. On error the
// partial line read so far is returned alongside it.
func (lr *lineReader) readLine() (string, error) {
	var buf []byte
	for {
		frag, err := lr.r.ReadSlice('\n')
		buf = append(buf, frag...)
		if lr.limited && len(buf) > lr.remaining {
			return string(buf), perrors.ErrSizeLimitExceeded
		}
		switch {
		case err == nil:
			lr.remaining -= len(buf)
			return string(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return string(buf), err
		}
	}
}
