package rbd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// FakeClient is an in-memory pool for unit tests. Snapshots keep creation
// order per image, oldest first, matching the real adapter's contract.
type FakeClient struct {
	Images    map[string][]byte   // image name -> content
	Snapshots map[string][]string // image name -> snapshot names, oldest first
	Calls     []string

	ListImagesErr error
	SnapshotErr   error
	DeleteErr     error
	ExportErr     error
}

var _ Client = (*FakeClient)(nil)

func NewFake() *FakeClient {
	return &FakeClient{Images: map[string][]byte{}, Snapshots: map[string][]string{}}
}

func (f *FakeClient) ListImages(context.Context) ([]string, error) {
	f.Calls = append(f.Calls, "ls")
	if f.ListImagesErr != nil {
		return nil, f.ListImagesErr
	}
	names := make([]string, 0, len(f.Images))
	for name := range f.Images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FakeClient) ListSnapshots(_ context.Context, image string) ([]string, error) {
	f.Calls = append(f.Calls, "snap ls "+image)
	return append([]string(nil), f.Snapshots[image]...), nil
}

func (f *FakeClient) CreateSnapshot(_ context.Context, image, snapshot string) error {
	f.Calls = append(f.Calls, "snap create "+image+"@"+snapshot)
	if f.SnapshotErr != nil {
		return f.SnapshotErr
	}
	if _, ok := f.Images[image]; !ok {
		return fmt.Errorf("fake: unknown image %s", image)
	}
	f.Snapshots[image] = append(f.Snapshots[image], snapshot)
	return nil
}

func (f *FakeClient) DeleteSnapshot(_ context.Context, image, snapshot string) error {
	f.Calls = append(f.Calls, "snap rm "+image+"@"+snapshot)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	snaps := f.Snapshots[image]
	for i, s := range snaps {
		if s == snapshot {
			f.Snapshots[image] = append(snaps[:i:i], snaps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("fake: unknown snapshot %s@%s", image, snapshot)
}

func (f *FakeClient) ExportSnapshot(_ context.Context, image, snapshot string) (io.ReadCloser, error) {
	f.Calls = append(f.Calls, "export "+image+"@"+snapshot)
	if f.ExportErr != nil {
		return nil, f.ExportErr
	}
	content, ok := f.Images[image]
	if !ok {
		return nil, fmt.Errorf("fake: unknown image %s", image)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// DeletedSnapshots returns the snap rm entries from the call log, in order.
func (f *FakeClient) DeletedSnapshots() []string {
	var out []string
	for _, c := range f.Calls {
		if rest, ok := strings.CutPrefix(c, "snap rm "); ok {
			out = append(out, rest)
		}
	}
	return out
}
