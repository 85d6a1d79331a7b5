// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import "fmt"

// PullRequest names the arm a policy wants pulled next.
//
// A non-negative value addresses the ranked view directly (rank 0 is the
// worst arm). A negative value addresses the by-index view, where index i
// is stored as -1 - i. The encoding is a bijection over all positions.
type PullRequest int

// ByRank returns a request for the arm at the given rank.
func ByRank(rank int) PullRequest {
	return Encode(rank, true)
}

// ByIndex returns a request for the arm with the given stable index.
func ByIndex(index int) PullRequest {
	return Encode(index, false)
}

// Encode builds a request for position pos in the ranked view when ranked
// is true, or in the by-index view otherwise.
func Encode(pos int, ranked bool) PullRequest {
	if ranked {
		return PullRequest(pos)
	}
	return PullRequest(-1 - pos)
}

// UsesRankedView reports whether the request addresses the ranked view.
func (r PullRequest) UsesRankedView() bool { return r >= 0 }

// Position returns the decoded position within the addressed view.
func (r PullRequest) Position() int {
	if r.UsesRankedView() {
		return int(r)
	}
	return -1 - int(r)
}

// String renders the request as "rank(n)" or "index(n)".
func (r PullRequest) String() string {
	if r.UsesRankedView() {
		return fmt.Sprintf("rank(%d)", r.Position())
	}
	return fmt.Sprintf("index(%d)", r.Position())
}
