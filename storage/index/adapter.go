package index

import "coredb/types"

// AsIndex adapts a *BPlusTree to types.BPlusTreeIndex for executors.
// Remove is returned by this module as (bool, error) — did-it-exist
// plus error — while the interface executors consume only needs the
// error, matching how they already observe absence upstream (a child
// tuple was already gone from the heap) rather than from the index's
// remove call. Begin and BeginAt return *Iterator, which the adapter
// hands back as types.IndexIterator.
type AsIndex struct {
	*BPlusTree
}

func (a AsIndex) Remove(key []byte) error {
	_, err := a.BPlusTree.Remove(key)
	return err
}

func (a AsIndex) Begin() (types.IndexIterator, error) {
	return a.BPlusTree.Begin()
}

func (a AsIndex) BeginAt(key []byte) (types.IndexIterator, error) {
	return a.BPlusTree.BeginAt(key)
}

var _ types.BPlusTreeIndex = AsIndex{}
