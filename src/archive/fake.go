package archive

import (
	"context"
	"io"
	"path"
	"time"
)

// FakeStore is an in-memory Store for unit tests. It records every call in
// order and can be told to fail specific operations.
type FakeStore struct {
	Entries map[string][]byte
	Order   []string // creation order
	Calls   []string

	CreateErr  error
	PruneErr   error
	CompactErr error
	ListErr    error
}

func NewFake() *FakeStore {
	return &FakeStore{Entries: map[string][]byte{}}
}

func (f *FakeStore) Create(_ context.Context, key string, r io.Reader) error {
	f.Calls = append(f.Calls, "create "+key)
	if f.CreateErr != nil {
		return f.CreateErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.Entries[key] = data
	f.Order = append(f.Order, key)
	return nil
}

func (f *FakeStore) Prune(_ context.Context, glob string, _ Policy) error {
	f.Calls = append(f.Calls, "prune "+glob)
	return f.PruneErr
}

func (f *FakeStore) Compact(context.Context) error {
	f.Calls = append(f.Calls, "compact")
	return f.CompactErr
}

func (f *FakeStore) List(_ context.Context, glob string) ([]Entry, error) {
	f.Calls = append(f.Calls, "list "+glob)
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	base := time.Unix(1700000000, 0).UTC()
	var out []Entry
	for i, name := range f.Order {
		if glob != "" {
			if ok, _ := path.Match(glob, name); !ok {
				continue
			}
		}
		out = append(out, Entry{Name: name, Time: base.Add(time.Duration(i) * time.Minute)})
	}
	return out, nil
}
