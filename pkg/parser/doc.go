// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser reads the head of an HTTP/1.x request off a raw byte stream.
//
// # Overview
//
// The parser does not interpret HTTP beyond what routing needs. It captures
// the start-line and every header line verbatim so the head can be replayed
// byte-for-byte to an upstream:
//
//	GET / HTTP/1.1\r\n          → Head.RequestLine
//	Host: example.com\r\n       → Head.Headers[0]
//	Accept: */*\r\n             → Head.Headers[1]
//	\r\n                        → consumed, not kept
//
// Head.Bytes returns RequestLine + header lines + "\r\n".
//
// # Tolerance
//
//   - Lines may end in "\n" or "\r\n".
//   - A request line with fewer than three tokens is accepted; missing fields
//     are reported as UNKNOWN_METHOD, UNKNOWN_PATH and UNKNOWN_HTTP_VERSION.
//   - Header lines without a colon are kept with an empty Name.
//
// # Errors
//
//   - ErrConnectionClosed: the stream ended before the first byte.
//   - ErrConnectionReadFailed: any read error, or the stream ended before the
//     blank line. Wraps ErrSizeLimitExceeded when the head exceeds maxBytes.
//
// The request body is never read.
package parser
