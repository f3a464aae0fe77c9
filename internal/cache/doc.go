// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

/*
Package cache provides the in-memory structures used on the download decision
path.

# Keyword Matching

KeywordMatcher is an Aho-Corasick automaton over a fixed keyword list. The
heuristic detector uses it to flag automated user agents in one pass over the
string, regardless of how many keywords are configured:

	m := cache.NewKeywordMatcher([]string{"bot", "curl", "wget"})
	m.Contains("Wget/1.21")        // true
	m.Matches("python-curl-bot")   // ["curl", "bot"]

Matching is case-insensitive and the automaton is immutable once built, so a
single matcher is shared across goroutines without locking.

# Reservations

SlidingWindowStore holds short-lived per-key reservations. The rate limiter
adds one entry per rule key when it admits a download and removes it when the
download is recorded; entries that are never released drop out after the
store's TTL. Count returns only live entries.

	store := cache.NewSlidingWindowStore(5*time.Minute, 100000)
	store.Add("ip:192.0.2.1")
	store.Count("ip:192.0.2.1") // 1
	store.Release("ip:192.0.2.1")

# Thread Safety

Both types are safe for concurrent use.
*/
package cache
