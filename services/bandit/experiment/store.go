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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/supplychain/services/bandit/storage/badger"
)

// ErrRunNotFound is returned when a store has no run with the given ID.
var ErrRunNotFound = errors.New("run not found")

// Store persists finished runs.
type Store interface {
	// Save writes run and all its results.
	Save(ctx context.Context, run *Run) error

	// Load reads a run and its results back.
	Load(ctx context.Context, id string) (*Run, error)

	Close() error
}

var (
	_ Store = (*BadgerStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// =============================================================================
// BadgerDB
// =============================================================================

// BadgerStore keeps runs in BadgerDB.
//
// Keys:
//
//	run/<id>              run metadata as JSON, without results
//	result/<id>/<index>   one result as JSON, index zero-padded to keep order
type BadgerStore struct {
	db *badgerstore.DB
}

// NewBadgerStore wraps an open database. Closing the store closes db.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens a persistent BadgerDB at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	db, err := badgerstore.Open(badgerstore.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	return NewBadgerStore(db), nil
}

func runKey(id string) []byte { return []byte("run/" + id) }

func resultPrefix(id string) []byte { return []byte("result/" + id + "/") }

// Save writes the run atomically.
func (s *BadgerStore) Save(ctx context.Context, run *Run) error {
	meta := *run
	meta.Results = nil
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(runKey(run.ID), metaJSON); err != nil {
			return fmt.Errorf("store run %s: %w", run.ID, err)
		}
		prefix := resultPrefix(run.ID)
		for i, res := range run.Results {
			data, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("marshal result %d: %w", i, err)
			}
			key := fmt.Appendf(append([]byte(nil), prefix...), "%08d", i)
			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("store result %d: %w", i, err)
			}
		}
		return nil
	})
}

// Load reads a run back with its results in their original order.
func (s *BadgerStore) Load(ctx context.Context, id string) (*Run, error) {
	data, err := s.db.Get(ctx, runKey(id))
	if errors.Is(err, badgerstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	err = s.db.Scan(ctx, resultPrefix(id), func(_, value []byte) error {
		var res Result
		if err := json.Unmarshal(value, &res); err != nil {
			return err
		}
		run.Results = append(run.Results, res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load results of %s: %w", id, err)
	}
	return &run, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
