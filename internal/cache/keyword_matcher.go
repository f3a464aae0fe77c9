// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package cache

import "strings"

// KeywordMatcher finds case-insensitive keyword occurrences with an
// Aho-Corasick automaton. Search time is O(n + z) in the text length and
// match count, independent of the number of keywords.
type KeywordMatcher struct {
	root     *acNode
	keywords []string
}

type acNode struct {
	children map[rune]*acNode
	failure  *acNode
	output   []int // keyword indexes ending here, including via failure links
}

func newACNode() *acNode {
	return &acNode{children: make(map[rune]*acNode)}
}

// NewKeywordMatcher builds a matcher. Empty and duplicate keywords are
// ignored.
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	m := &KeywordMatcher{root: newACNode()}

	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		m.insert(len(m.keywords), kw)
		m.keywords = append(m.keywords, kw)
	}
	m.buildFailureLinks()
	return m
}

func (m *KeywordMatcher) insert(index int, kw string) {
	node := m.root
	for _, ch := range kw {
		next := node.children[ch]
		if next == nil {
			next = newACNode()
			node.children[ch] = next
		}
		node = next
	}
	node.output = append(node.output, index)
}

// buildFailureLinks wires each node to its longest proper suffix (BFS).
func (m *KeywordMatcher) buildFailureLinks() {
	queue := make([]*acNode, 0, len(m.root.children))
	for _, child := range m.root.children {
		child.failure = m.root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for ch, child := range current.children {
			queue = append(queue, child)

			fail := current.failure
			for fail != nil && fail.children[ch] == nil {
				fail = fail.failure
			}
			if fail == nil {
				child.failure = m.root
				continue
			}
			child.failure = fail.children[ch]
			child.output = append(child.output, child.failure.output...)
		}
	}
}

// step advances the automaton by one rune.
func (m *KeywordMatcher) step(node *acNode, ch rune) *acNode {
	for node != nil && node.children[ch] == nil {
		node = node.failure
	}
	if node == nil {
		return m.root
	}
	return node.children[ch]
}

// Contains reports whether any keyword occurs in text.
func (m *KeywordMatcher) Contains(text string) bool {
	if len(m.keywords) == 0 {
		return false
	}
	node := m.root
	for _, ch := range strings.ToLower(text) {
		node = m.step(node, ch)
		if len(node.output) > 0 {
			return true
		}
	}
	return false
}

// Matches returns the distinct keywords found in text, in order of first
// occurrence.
func (m *KeywordMatcher) Matches(text string) []string {
	if len(m.keywords) == 0 {
		return nil
	}
	var (
		found []string
		seen  = make(map[int]struct{})
		node  = m.root
	)
	for _, ch := range strings.ToLower(text) {
		node = m.step(node, ch)
		for _, idx := range node.output {
			if _, ok := seen[idx]; ok {
				continue
			}
			seen[idx] = struct{}{}
			found = append(found, m.keywords[idx])
		}
	}
	return found
}

// Keywords returns the normalized keyword list.
func (m *KeywordMatcher) Keywords() []string {
	out := make([]string, len(m.keywords))
	copy(out, m.keywords)
	return out
}
