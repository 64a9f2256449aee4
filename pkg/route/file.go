// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	perrors "github.com/absmach/vproxy/pkg/errors"
)

// Parse reads routes in the flat text format: one route per non-empty line,
// three whitespace-separated fields "domain upstream_host upstream_port".
// Lines starting with '#' are ignored. Any malformed line fails the whole
// parse with ErrConfigInvalid.
func Parse(r io.Reader) ([]Route, error) {
	var routes []Route

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d: expected 3 fields, got %d", perrors.ErrConfigInvalid, lineNo, len(fields))
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("%w: line %d: invalid port %q", perrors.ErrConfigInvalid, lineNo, fields[2])
		}

		routes = append(routes, Route{
			Domain:   fields[0],
			Upstream: Upstream{Host: fields[1], Port: uint16(port)},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", perrors.ErrConfigInvalid, err)
	}

	return routes, nil
}

// ReadFile parses the routes file at path. A missing file yields no routes.
func ReadFile(path string) ([]Route, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", perrors.ErrConfigInvalid, err)
	}
	defer f.Close()

	return Parse(f)
}

// LoadFile parses the routes file at path and builds a Table from it.
// Duplicate domains are rejected.
func LoadFile(path string) (*Table, error) {
	routes, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Build(routes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", perrors.ErrConfigInvalid, path, err)
	}
	return t, nil
}

// AppendFile adds r to the routes file at path, creating the file if needed.
// It fails if the domain or the upstream port is already present.
func AppendFile(path string, r Route) error {
	if err := r.Validate(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	existing, err := Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Domain == r.Domain {
			return fmt.Errorf("%w: %s", perrors.ErrDuplicateDomain, r.Domain)
		}
		if e.Upstream.Port == r.Upstream.Port {
			return fmt.Errorf("%w: %d (used by %s)", perrors.ErrDuplicatePort, r.Upstream.Port, e.Domain)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %d\n", r.Domain, r.Upstream.Host, r.Upstream.Port)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		return err
	}
	return f.Sync()
}
