// Package pointer implements the Pointer Index (spec.md §4.2): the
// in-memory map from every externally-observable identity a State can be
// addressed by — "{ns}://{id}/{type}" GUID pointers, the relative pointer
// composite key for episodes not yet carrying their own GUIDs, and the
// reserved "local_db://{id}" direct form — back to the storage key that
// owns it.
package pointer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kasuboski/watchstate/internal/state"
)

// Loader resolves a pointer the in-memory index doesn't hold, by asking
// Storage directly. It's consulted only when the index was constructed
// with preloaded=false — a full reconcile run preloads everything and
// never pays this cost.
type Loader func(ctx context.Context, pointer string) (key int64, ok bool, err error)

// Index is the Pointer Index. The zero value is not usable; construct
// with New.
type Index struct {
	mu        sync.RWMutex
	ptr       map[string]int64 // "{ns}://{id}/{type}" and "local_db://{id}" -> key
	rptr      map[string]int64 // relative pointer composite key -> key
	loader    Loader
	preloaded bool
}

// New builds an empty Index. When preloaded is false, Get falls back to
// loader for pointers not yet in memory.
func New(loader Loader, preloaded bool) *Index {
	return &Index{
		ptr:       make(map[string]int64),
		rptr:      make(map[string]int64),
		loader:    loader,
		preloaded: preloaded,
	}
}

// Add registers every pointer s currently exposes as resolving to key.
// Per spec.md §5's ordering guarantee, callers remove a record's previous
// pointers (if any) and register its new ones strictly before the
// corresponding objects-map update, as the Mapper does through Replace.
func (idx *Index) Add(key int64, s *state.State) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, p := range s.Pointers() {
		idx.ptr[p] = key
	}

	if lp, ok := s.LocalPointer(); ok {
		idx.ptr[lp] = key
	}

	if rp, ok := s.RelativePointer(); ok {
		idx.rptr[rp] = key
	}
}

// Remove deregisters every pointer s currently exposes.
func (idx *Index) Remove(s *state.State) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, p := range s.Pointers() {
		delete(idx.ptr, p)
	}

	if lp, ok := s.LocalPointer(); ok {
		delete(idx.ptr, lp)
	}

	if rp, ok := s.RelativePointer(); ok {
		delete(idx.rptr, rp)
	}
}

// Replace removes old's pointers and adds next's under key, in the order
// the spec's ordering guarantee requires.
func (idx *Index) Replace(key int64, old, next *state.State) {
	if old != nil {
		idx.Remove(old)
	}
	idx.Add(key, next)
}

// Get resolves a single pointer string to a storage key.
func (idx *Index) Get(ctx context.Context, p string) (int64, bool, error) {
	if key, ok := localDBKey(p); ok {
		return key, true, nil
	}

	idx.mu.RLock()
	key, ok := idx.ptr[p]
	idx.mu.RUnlock()
	if ok {
		return key, true, nil
	}

	idx.mu.RLock()
	key, ok = idx.rptr[p]
	idx.mu.RUnlock()
	if ok {
		return key, true, nil
	}

	if idx.preloaded || idx.loader == nil {
		return 0, false, nil
	}

	return idx.loader(ctx, p)
}

// Lookup tries s's identities in the order spec.md §4.2 requires: the
// reserved local_db://id direct form first, then the relative pointer
// (episodes without their own GUIDs yet), then every GUID pointer,
// returning on the first hit. This is the identity-resolution step the
// Reconciliation Engine's decision procedure runs for every incoming
// observation.
func (idx *Index) Lookup(ctx context.Context, s *state.State) (int64, bool, error) {
	if lp, ok := s.LocalPointer(); ok {
		if key, ok, err := idx.Get(ctx, lp); err != nil {
			return 0, false, err
		} else if ok {
			return key, true, nil
		}
	}

	if rp, ok := s.RelativePointer(); ok {
		if key, ok, err := idx.Get(ctx, rp); err != nil {
			return 0, false, err
		} else if ok {
			return key, true, nil
		}
	}

	for _, p := range s.Pointers() {
		if key, ok, err := idx.Get(ctx, p); err != nil {
			return 0, false, err
		} else if ok {
			return key, true, nil
		}
	}

	return 0, false, nil
}

func localDBKey(p string) (int64, bool) {
	rest, ok := strings.CutPrefix(p, state.LocalDBScheme+"://")
	if !ok {
		return 0, false
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// String is a debug helper describing the pointer count held in memory.
func (idx *Index) String() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return fmt.Sprintf("pointer.Index{ptr:%d rptr:%d preloaded:%t}", len(idx.ptr), len(idx.rptr), idx.preloaded)
}
