// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	perrors "github.com/absmach/vproxy/pkg/errors"
	"github.com/absmach/vproxy/pkg/route"
	"gopkg.in/yaml.v3"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "single dash known flags",
			args: []string{"add-route", "-domain", "a.com", "-lhost", "127.0.0.1", "-lport", "3000"},
			want: []string{"add-route", "--domain", "a.com", "--lhost", "127.0.0.1", "--lport", "3000"},
		},
		{
			name: "single dash with value",
			args: []string{"routes", "-routes=/tmp/r", "-output=yaml"},
			want: []string{"routes", "--routes=/tmp/r", "--output=yaml"},
		},
		{
			name: "double dash untouched",
			args: []string{"add-route", "--domain", "a.com"},
			want: []string{"add-route", "--domain", "a.com"},
		},
		{
			name: "shorthand untouched",
			args: []string{"routes", "-o", "yaml"},
			want: []string{"routes", "-o", "yaml"},
		},
		{
			name: "unknown single dash untouched",
			args: []string{"start", "-x"},
			want: []string{"start", "-x"},
		},
		{
			name: "stops at terminator",
			args: []string{"start", "--", "-domain"},
			want: []string{"start", "--", "-domain"},
		},
		{
			name: "empty",
			args: []string{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeArgs(tt.args)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("normalizeArgs(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(normalizeArgs(args))
	err := root.Execute()
	return out.String(), err
}

func TestAddRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes")

	out, err := execute(t, "add-route", "-routes", path, "-domain", "a.com", "-lhost", "127.0.0.1", "-lport", "3000")
	if err != nil {
		t.Fatalf("add-route failed: %v", err)
	}
	if !strings.Contains(out, "Added route a.com -> 127.0.0.1:3000") {
		t.Errorf("Unexpected output %q", out)
	}

	if _, err := execute(t, "add-route", "--routes", path, "--domain", "b.com", "--lhost", "10.0.0.5", "--lport", "8080"); err != nil {
		t.Fatalf("add-route failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "a.com 127.0.0.1 3000\nb.com 10.0.0.5 8080\n"
	if string(data) != want {
		t.Errorf("Expected routes file %q, got %q", want, string(data))
	}
}

func TestAddRoute_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes")
	if err := os.WriteFile(path, []byte("a.com 127.0.0.1 3000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want error
	}{
		{
			name: "duplicate domain",
			args: []string{"-domain", "a.com", "-lhost", "127.0.0.1", "-lport", "4000"},
			want: perrors.ErrDuplicateDomain,
		},
		{
			name: "duplicate port",
			args: []string{"-domain", "b.com", "-lhost", "127.0.0.1", "-lport", "3000"},
			want: perrors.ErrDuplicatePort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"add-route", "-routes", path}, tt.args...)
			_, err := execute(t, args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a.com 127.0.0.1 3000\n" {
		t.Errorf("Rejected routes must not be written, got %q", string(data))
	}
}

func TestAddRoute_MissingFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes")

	if _, err := execute(t, "add-route", "-routes", path, "-domain", "a.com", "-lhost", "127.0.0.1"); err == nil {
		t.Error("Expected error for missing -lport")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected no routes file, got %v", err)
	}
}

func TestRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes")
	content := "# upstreams\nb.com 10.0.0.5 8080\na.com 127.0.0.1 3000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, "routes", "-routes", path)
		if err != nil {
			t.Fatalf("routes failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 3 {
			t.Fatalf("Expected header and 2 routes, got %q", out)
		}
		if f := strings.Fields(lines[0]); !reflect.DeepEqual(f, []string{"DOMAIN", "UPSTREAM"}) {
			t.Errorf("Unexpected header %q", lines[0])
		}
		if f := strings.Fields(lines[1]); !reflect.DeepEqual(f, []string{"a.com", "127.0.0.1:3000"}) {
			t.Errorf("Unexpected first route %q", lines[1])
		}
		if f := strings.Fields(lines[2]); !reflect.DeepEqual(f, []string{"b.com", "10.0.0.5:8080"}) {
			t.Errorf("Unexpected second route %q", lines[2])
		}
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := execute(t, "ls", "--routes", path, "-o", "yaml")
		if err != nil {
			t.Fatalf("routes failed: %v", err)
		}
		var got []route.Route
		if err := yaml.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("Invalid yaml output %q: %v", out, err)
		}
		want := []route.Route{
			{Domain: "a.com", Upstream: route.Upstream{Host: "127.0.0.1", Port: 3000}},
			{Domain: "b.com", Upstream: route.Upstream{Host: "10.0.0.5", Port: 8080}},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Expected %+v, got %+v", want, got)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := execute(t, "routes", "-routes", path, "-output", "json"); err == nil {
			t.Error("Expected error for unknown output format")
		}
	})
}

func TestRoutes_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes")

	out, err := execute(t, "routes", "-routes", path)
	if err != nil {
		t.Fatalf("routes failed: %v", err)
	}
	if !strings.Contains(out, "No routes in "+path) {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestRoutes_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes")
	if err := os.WriteFile(path, []byte("a.com 127.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "routes", "-routes", path); !errors.Is(err, perrors.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid, got %v", err)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		info  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(tt.level, "text")
			if got := logger.Enabled(t.Context(), -4); got != tt.debug {
				t.Errorf("debug enabled = %v, want %v", got, tt.debug)
			}
			if got := logger.Enabled(t.Context(), 0); got != tt.info {
				t.Errorf("info enabled = %v, want %v", got, tt.info)
			}
		})
	}
}
