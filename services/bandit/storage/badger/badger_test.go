// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, db *DB, key, value string) {
	t.Helper()
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	}))
}

func TestOpenInMemory_RoundTrip(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	put(t, db, "run/1", "greedy")
	got, err := db.Get(context.Background(), []byte("run/1"))
	require.NoError(t, err)
	assert.Equal(t, "greedy", string(got))
	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 10 * time.Millisecond

	db, err := Open(cfg)
	require.NoError(t, err)
	put(t, db, "persistent-key", "persistent-value")
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, db.Close())

	db2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get(context.Background(), []byte("persistent-key"))
	require.NoError(t, err)
	assert.Equal(t, "persistent-value", string(got))
	assert.Equal(t, dir, db2.Path())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestGet_Missing(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScan_PrefixInKeyOrder(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	put(t, db, "result/b", "2")
	put(t, db, "result/a", "1")
	put(t, db, "run/a", "x")
	put(t, db, "result/c", "3")

	var keys, values []string
	err = db.Scan(context.Background(), []byte("result/"), func(k, v []byte) error {
		keys = append(keys, string(k))
		values = append(values, string(v))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"result/a", "result/b", "result/c"}, keys)
	assert.Equal(t, []string{"1", "2", "3"}, values)
}

func TestScan_StopsOnCallbackError(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	put(t, db, "p/1", "a")
	put(t, db, "p/2", "b")

	stop := errors.New("stop")
	var seen int
	err = db.Scan(context.Background(), []byte("p/"), func(_, _ []byte) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestWithTxn_RollsBackOnError(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	err = db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.Get(context.Background(), []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = db.WithTxn(ctx, func(*badger.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_Idempotent(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.NoError(t, db.Close())
}
