package store

import "github.com/vkucera/task-coach/internal/model"

// parentFirst orders items so that every item whose parent is also in items
// comes after that parent. Otherwise the id order is kept. Items caught in a
// parent cycle are appended in id order.
func parentFirst[T model.Record](items []T, parent func(T) int64) []T {
	present := ids(items)
	emitted := make(map[int64]bool, len(items))
	out := make([]T, 0, len(items))

	for len(out) < len(items) {
		progress := false
		for _, it := range items {
			id := it.Base().LocalID
			if emitted[id] {
				continue
			}
			p := parent(it)
			if p == 0 || !present[p] || emitted[p] {
				out = append(out, it)
				emitted[id] = true
				progress = true
			}
		}
		if !progress {
			for _, it := range items {
				if !emitted[it.Base().LocalID] {
					out = append(out, it)
					emitted[it.Base().LocalID] = true
				}
			}
		}
	}
	return out
}

func ids[T model.Record](items []T) map[int64]bool {
	m := make(map[int64]bool, len(items))
	for _, it := range items {
		m[it.Base().LocalID] = true
	}
	return m
}

func records[T model.Record](items []T) []model.Record {
	out := make([]model.Record, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

// keepLinks drops the positional category links not in live.
func keepLinks(locals []int64, remotes []string, live map[int64]bool) ([]int64, []string) {
	var (
		keptLocals  []int64
		keptRemotes []string
	)
	for i, id := range locals {
		if live[id] {
			keptLocals = append(keptLocals, id)
			keptRemotes = append(keptRemotes, remotes[i])
		}
	}
	return keptLocals, keptRemotes
}
