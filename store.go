package main

// The shared state store is the only channel the game sessions communicate
// through. It mimics the semantics of a hosted realtime key-value tree:
//
//   - values form a tree of map[string]any nodes addressed by slash paths
//   - Write replaces a subtree, Merge updates direct children (nil deletes)
//   - empty collections are pruned and indistinguishable from absent
//   - Subscribe fires on every change at or below a path, including the
//     subscriber's own writes, at-least-once, with no cross-path ordering
//   - Update is an atomic read-modify-write; the callback sees a private
//     copy of the current subtree and may abort by returning an error
//
// Sessions never share memory directly; everything they know about a room
// arrives through this tree.

import (
	"strings"
	"sync"
)

type sharedStore interface {
	Read(path string) (any, bool)
	Write(path string, value any)
	Merge(path string, fields map[string]any)
	Update(path string, fn func(current any) (any, error)) error
	Subscribe(path string, fn func(snapshot any)) (cancel func())
	RegisterCleanup(token, path string)
	CancelCleanup(token, path string)
	Disconnect(token string)
}

type memoryStore struct {
	mu       sync.Mutex
	root     map[string]any
	subs     map[int]*storeSub
	nextSub  int
	cleanups map[string][]string // connection token -> paths to remove
}

type storeSub struct {
	path    string
	pending chan any
	done    chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		root:     make(map[string]any),
		subs:     make(map[int]*storeSub),
		cleanups: make(map[string][]string),
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(strings.Trim(path, "/"), "/")
}

// cloneValue deep-copies a subtree so callers never alias store internals.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = cloneValue(c)
		}
		return out
	case []int:
		out := make([]int, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = cloneValue(c)
		}
		return out
	default:
		return v
	}
}

// pruneValue drops nils and empty collections, returning nil when the whole
// subtree collapses. This is the quirk the rest of the engine has to live
// with: an empty hand and a missing hand read back identically.
func pruneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, c := range t {
			p := pruneValue(c)
			if p == nil {
				delete(t, k)
			} else {
				t[k] = p
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []int:
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return v
	}
}

// getLocked returns the live node at path, without copying.
func (s *memoryStore) getLocked(parts []string) (any, bool) {
	var cur any = s.root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setLocked replaces the node at path, creating intermediate maps. A nil
// value removes the node and collapses empty ancestors.
func (s *memoryStore) setLocked(parts []string, value any) {
	if len(parts) == 0 {
		if m, ok := value.(map[string]any); ok {
			s.root = m
		} else {
			s.root = make(map[string]any)
		}
		return
	}

	value = pruneValue(value)
	if value == nil {
		s.removeLocked(parts)
		return
	}

	cur := s.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func (s *memoryStore) removeLocked(parts []string) {
	if len(parts) == 0 {
		s.root = make(map[string]any)
		return
	}

	nodes := make([]map[string]any, 0, len(parts))
	cur := s.root
	for _, p := range parts[:len(parts)-1] {
		nodes = append(nodes, cur)
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	nodes = append(nodes, cur)
	delete(cur, parts[len(parts)-1])

	// Collapse now-empty ancestors so absence stays uniform.
	for i := len(nodes) - 1; i > 0; i-- {
		if len(nodes[i]) == 0 {
			delete(nodes[i-1], parts[i-1])
		}
	}
}

func (s *memoryStore) Read(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.getLocked(splitPath(path))
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

func (s *memoryStore) Write(path string, value any) {
	s.mu.Lock()
	s.setLocked(splitPath(path), cloneValue(value))
	s.notifyLocked(path)
	s.mu.Unlock()
}

func (s *memoryStore) Merge(path string, fields map[string]any) {
	s.mu.Lock()
	parts := splitPath(path)
	for k, v := range fields {
		child := append(append([]string{}, parts...), splitPath(k)...)
		if v == nil {
			s.removeLocked(child)
		} else {
			s.setLocked(child, cloneValue(v))
		}
	}
	s.notifyLocked(path)
	s.mu.Unlock()
}

func (s *memoryStore) Update(path string, fn func(current any) (any, error)) error {
	s.mu.Lock()
	parts := splitPath(path)
	var snapshot any
	if v, ok := s.getLocked(parts); ok {
		snapshot = cloneValue(v)
	}

	next, err := fn(snapshot)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.setLocked(parts, next)
	s.notifyLocked(path)
	s.mu.Unlock()
	return nil
}

// related reports whether a change at changed is visible to a subscription
// rooted at sub: either may be an ancestor of the other.
func related(sub, changed string) bool {
	if sub == changed || sub == "" || changed == "" {
		return true
	}
	return strings.HasPrefix(changed, sub+"/") || strings.HasPrefix(sub, changed+"/")
}

func (s *memoryStore) notifyLocked(changed string) {
	for _, sub := range s.subs {
		if !related(sub.path, changed) {
			continue
		}
		var snap any
		if v, ok := s.getLocked(splitPath(sub.path)); ok {
			snap = cloneValue(v)
		}
		// Coalesce: only the latest snapshot matters to a subscriber.
		select {
		case sub.pending <- snap:
		default:
			select {
			case <-sub.pending:
			default:
			}
			select {
			case sub.pending <- snap:
			default:
			}
		}
	}
}

func (s *memoryStore) Subscribe(path string, fn func(snapshot any)) func() {
	sub := &storeSub{
		path:    strings.Trim(path, "/"),
		pending: make(chan any, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub

	// Initial delivery, matching an onValue-style subscription.
	var snap any
	if v, ok := s.getLocked(splitPath(sub.path)); ok {
		snap = cloneValue(v)
	}
	sub.pending <- snap
	s.mu.Unlock()

	go func() {
		for {
			select {
			case v := <-sub.pending:
				fn(v)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.done)
		}
		s.mu.Unlock()
	}
}

func (s *memoryStore) RegisterCleanup(token, path string) {
	s.mu.Lock()
	s.cleanups[token] = append(s.cleanups[token], strings.Trim(path, "/"))
	s.mu.Unlock()
}

func (s *memoryStore) CancelCleanup(token, path string) {
	s.mu.Lock()
	path = strings.Trim(path, "/")
	paths := s.cleanups[token][:0]
	for _, p := range s.cleanups[token] {
		if p != path {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		delete(s.cleanups, token)
	} else {
		s.cleanups[token] = paths
	}
	s.mu.Unlock()
}

// Disconnect runs the best-effort cleanup registered for a connection.
func (s *memoryStore) Disconnect(token string) {
	s.mu.Lock()
	paths := s.cleanups[token]
	delete(s.cleanups, token)
	for _, p := range paths {
		s.removeLocked(splitPath(p))
		s.notifyLocked(p)
	}
	s.mu.Unlock()
}
