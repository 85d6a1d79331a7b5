// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerstore "github.com/AleutianAI/supplychain/services/bandit/storage/badger"
)

func assertSameRun(t *testing.T, want, got *Run) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Label, got.Label)
	assert.Equal(t, want.Modes, got.Modes)
	assert.Equal(t, want.Policies, got.Policies)
	assert.Equal(t, want.Tree, got.Tree)
	assert.Equal(t, want.Stats, got.Stats)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, want.Results, got.Results)
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	store := NewBadgerStore(db)
	defer store.Close()

	ctx := context.Background()
	run := sampleRun()
	require.NoError(t, store.Save(ctx, run))

	got, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assertSameRun(t, run, got)
}

func TestBadgerStore_KeepsRunsApart(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	store := NewBadgerStore(db)
	defer store.Close()

	ctx := context.Background()
	first, second := sampleRun(), sampleRun()
	second.ID = "run-10"
	second.Results = second.Results[:2]
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, got.Results, 8)

	got, err = store.Load(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, got.Results, 2)
}

func TestBadgerStore_NotFound(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	store := NewBadgerStore(db)
	defer store.Close()

	_, err = store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestOpenBadgerStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badger")
	ctx := context.Background()
	run := sampleRun()

	store, err := OpenBadgerStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, run))
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assertSameRun(t, run, got)
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "data", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()
	run := sampleRun()

	require.NoError(t, store.Save(ctx, run))
	got, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assertSameRun(t, run, got)
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()
	run := sampleRun()
	require.NoError(t, store.Save(ctx, run))

	run.Label = "renamed"
	run.Results = run.Results[:4]
	require.NoError(t, store.Save(ctx, run))

	got, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label)
	assert.Len(t, got.Results, 4)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := openSQLite(t)
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLiteStore_BestPolicies(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()
	run := sampleRun()
	require.NoError(t, store.Save(ctx, run))

	best, err := store.BestPolicies(ctx, run.ID, ModeDynamic)
	require.NoError(t, err)
	assert.Equal(t, map[float64]string{1: "a", 2.6: "b"}, best)

	best, err = store.BestPolicies(ctx, run.ID, ModeStatic)
	require.NoError(t, err)
	assert.Equal(t, map[float64]string{1: "b", 2.6: "a"}, best)
}
