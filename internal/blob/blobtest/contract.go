// Package blobtest holds the behaviour every blob backend is tested against.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"labexec/internal/blob/core"
)

// Run exercises create-only puts, reads and prefix listing.
func Run(t *testing.T, newStore func(t *testing.T) core.Store) {
	t.Helper()

	t.Run("PutGetHead", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		payload := []byte(`{"id":"exec-1"}`)
		info, err := store.Put(ctx, "executions/study-1/exec-1/v3.json", bytes.NewReader(payload), core.PutOptions{
			ContentType: "application/json",
			Metadata:    map[string]string{"version": "3"},
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if info.Size != int64(len(payload)) {
			t.Fatalf("expected size %d, got %d", len(payload), info.Size)
		}
		got, rc, err := store.Get(ctx, "executions/study-1/exec-1/v3.json")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer func() { _ = rc.Close() }()
		body, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(body, payload) || got.ContentType != "application/json" {
			t.Fatalf("unexpected blob %q info %+v", body, got)
		}
		head, err := store.Head(ctx, "executions/study-1/exec-1/v3.json")
		if err != nil {
			t.Fatalf("head: %v", err)
		}
		if head.Size != int64(len(payload)) {
			t.Fatalf("unexpected head %+v", head)
		}
	})

	t.Run("PutIsCreateOnly", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		if _, err := store.Put(ctx, "a.json", bytes.NewReader([]byte("first")), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		_, err := store.Put(ctx, "a.json", bytes.NewReader([]byte("second")), core.PutOptions{})
		if !errors.Is(err, core.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
		_, rc, err := store.Get(ctx, "a.json")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer func() { _ = rc.Close() }()
		body, _ := io.ReadAll(rc)
		if string(body) != "first" {
			t.Fatalf("expected original content to survive, got %q", body)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		if _, _, err := store.Get(ctx, "nope.json"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected get ErrNotFound, got %v", err)
		}
		if _, err := store.Head(ctx, "nope.json"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected head ErrNotFound, got %v", err)
		}
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		for _, key := range []string{"executions/s2/e9/v4.json", "executions/s1/e1/v5.json", "executions/s1/e1/v2.json"} {
			if _, err := store.Put(ctx, key, bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
				t.Fatalf("put %s: %v", key, err)
			}
		}
		list, err := store.List(ctx, "executions/s1/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].Key != "executions/s1/e1/v2.json" || list[1].Key != "executions/s1/e1/v5.json" {
			t.Fatalf("unexpected listing %+v", list)
		}
		all, err := store.List(ctx, "")
		if err != nil || len(all) != 3 {
			t.Fatalf("list all: %v %d", err, len(all))
		}
	})
}
