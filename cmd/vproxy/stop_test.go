// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vproxy.pid")

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile() error: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestReadPIDFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		content    *string
		notRunning bool
	}{
		{name: "missing", notRunning: true},
		{name: "garbage", content: ptr("abc\n")},
		{name: "zero", content: ptr("0\n")},
		{name: "negative", content: ptr("-12")},
		{name: "empty", content: ptr("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			_, err := readPIDFile(path)
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.Is(err, errNotRunning); got != tt.notRunning {
				t.Errorf("errors.Is(err, errNotRunning) = %v, want %v (err: %v)", got, tt.notRunning, err)
			}
		})
	}
}

func TestStop_NotRunning(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VPROXY_PID_FILE", filepath.Join(dir, "vproxy.pid"))

	if _, err := execute(t, "stop", "-routes", filepath.Join(dir, "routes")); !errors.Is(err, errNotRunning) {
		t.Errorf("Expected errNotRunning, got %v", err)
	}
}

func ptr(s string) *string {
	return &s
}
