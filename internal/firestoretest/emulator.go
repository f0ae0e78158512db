// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package firestoretest runs store tests against a local Firestore emulator.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
)

// startupTimeout bounds the wait for the emulator to accept connections.
const startupTimeout = time.Minute

func freePort() (int, error) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv6loopback, Port: 0})
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func exited(cmd *exec.Cmd) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	return done
}

// StartEmulator launches the gcloud Firestore emulator and points
// FIRESTORE_EMULATOR_HOST at it. The returned channel yields nil once the
// emulator accepts connections. The emulator is shut down on test cleanup.
func StartEmulator(ctx context.Context, t *testing.T) <-chan error {
	t.Helper()
	port, err := freePort()
	if err != nil {
		t.Fatalf("freePort(): %v", err)
	}
	addr := fmt.Sprintf("localhost:%d", port)
	t.Logf("starting firestore emulator... addr=%s", addr)
	cmd := exec.Command("gcloud", "emulators", "firestore", "start", "--host-port="+addr)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("failure starting firestore emulator: %v", err)
	}
	t.Setenv("FIRESTORE_EMULATOR_HOST", addr)
	done := exited(cmd)
	result := make(chan error, 1)
	go func() {
		ready := make(chan struct{})
		go func() {
			for {
				c, err := net.DialTCP("tcp", nil, &net.TCPAddr{Port: port})
				if err == nil {
					c.Close()
					close(ready)
					return
				}
				select {
				case <-time.After(300 * time.Millisecond):
				case <-ctx.Done():
					return
				}
			}
		}()
		select {
		case <-ready:
			result <- nil
		case <-done:
			result <- errors.Errorf("firestore emulator exited: %s", cmd.ProcessState)
		case <-ctx.Done():
			result <- ctx.Err()
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/shutdown", addr), nil)
		if resp, err := http.DefaultClient.Do(req); err != nil {
			t.Logf("sending emulator shutdown: %v", err)
		} else {
			resp.Body.Close()
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("timeout waiting for emulator shutdown, killing it")
			cmd.Process.Kill()
		}
	})
	return result
}

// NewClient returns a client connected to a fresh emulator. The test is
// skipped when gcloud is not installed.
func NewClient(t *testing.T) *firestore.Client {
	t.Helper()
	if _, err := exec.LookPath("gcloud"); err != nil {
		t.Skip("gcloud not installed, skipping firestore emulator test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := <-StartEmulator(ctx, t); err != nil {
		t.Fatalf("starting emulator: %v", err)
	}
	client, err := firestore.NewClient(context.Background(), "test-project")
	if err != nil {
		t.Fatalf("firestore.NewClient(): %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
