package virt

import (
	"fmt"
	"sort"
	"strings"
)

// FakeClient is an in-memory Client for unit tests. It records snapshot and
// commit calls in order and can be told to fail each operation.
type FakeClient struct {
	Domains map[string]Domain
	Disks   map[string][]Disk
	XML     map[string][]byte

	Calls []string

	ListDomainsErr error
	ListDisksErr   error
	DumpXMLErr     error
	SnapshotErr    error
	CommitErr      error

	// OnSnapshot and OnCommit run after a successful call record; tests use
	// them to mimic the hypervisor repointing disk sources.
	OnSnapshot func(domain, target, overlayPath string)
	OnCommit   func(domain, target string)
}

var _ Client = (*FakeClient)(nil)

func NewFake() *FakeClient {
	return &FakeClient{
		Domains: map[string]Domain{},
		Disks:   map[string][]Disk{},
		XML:     map[string][]byte{},
	}
}

// AddDomain registers a domain with its disks and a canned descriptor.
func (f *FakeClient) AddDomain(name string, state DomainState, disks ...Disk) {
	f.Domains[name] = Domain{Name: name, State: state}
	f.Disks[name] = disks
	f.XML[name] = []byte("<domain><name>" + name + "</name></domain>")
}

func (f *FakeClient) ListDomains() ([]Domain, error) {
	if f.ListDomainsErr != nil {
		return nil, f.ListDomainsErr
	}
	out := make([]Domain, 0, len(f.Domains))
	for _, d := range f.Domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeClient) ListDisks(domain string) ([]Disk, error) {
	if f.ListDisksErr != nil {
		return nil, f.ListDisksErr
	}
	disks, ok := f.Disks[domain]
	if !ok {
		return nil, fmt.Errorf("fake: unknown domain %s", domain)
	}
	return append([]Disk(nil), disks...), nil
}

func (f *FakeClient) DumpXML(domain string) ([]byte, error) {
	if f.DumpXMLErr != nil {
		return nil, f.DumpXMLErr
	}
	doc, ok := f.XML[domain]
	if !ok {
		return nil, fmt.Errorf("fake: unknown domain %s", domain)
	}
	return doc, nil
}

func (f *FakeClient) CreateExternalSnapshot(domain, target, overlayPath, snapshotName string) error {
	f.Calls = append(f.Calls, strings.Join([]string{"snapshot", domain, target, overlayPath, snapshotName}, " "))
	if f.SnapshotErr != nil {
		return f.SnapshotErr
	}
	f.repointDisk(domain, target, overlayPath)
	if f.OnSnapshot != nil {
		f.OnSnapshot(domain, target, overlayPath)
	}
	return nil
}

func (f *FakeClient) CommitDisk(domain, target string) error {
	f.Calls = append(f.Calls, strings.Join([]string{"commit", domain, target}, " "))
	if f.CommitErr != nil {
		return f.CommitErr
	}
	if f.OnCommit != nil {
		f.OnCommit(domain, target)
	}
	return nil
}

// SetDiskSource repoints a disk's locator, mimicking snapshot/commit pivots.
func (f *FakeClient) SetDiskSource(domain, target, source string) {
	f.repointDisk(domain, target, source)
}

func (f *FakeClient) repointDisk(domain, target, source string) {
	disks := f.Disks[domain]
	for i := range disks {
		if disks[i].Target == target {
			disks[i].Source = source
		}
	}
	f.Disks[domain] = disks
}

// SnapshotCalls returns only the snapshot entries from the call log.
func (f *FakeClient) SnapshotCalls() []string { return f.filterCalls("snapshot ") }

// CommitCalls returns only the commit entries from the call log.
func (f *FakeClient) CommitCalls() []string { return f.filterCalls("commit ") }

func (f *FakeClient) filterCalls(prefix string) []string {
	var out []string
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
