package virt

import (
	"fmt"
	"time"

	libvirt "libvirt.org/go/libvirt"
)

// LibvirtClient implements Client against a live libvirt connection.
type LibvirtClient struct {
	conn *libvirt.Connect
}

var _ Client = (*LibvirtClient)(nil)

// Connect opens a libvirt connection, e.g. to qemu:///system.
func Connect(uri string) (*LibvirtClient, error) {
	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, fmt.Errorf("virt: connect %s: %w", uri, err)
	}
	return &LibvirtClient{conn: conn}, nil
}

// Close releases the hypervisor connection.
func (c *LibvirtClient) Close() error {
	_, err := c.conn.Close()
	return err
}

func (c *LibvirtClient) ListDomains() ([]Domain, error) {
	doms, err := c.conn.ListAllDomains(0)
	if err != nil {
		return nil, fmt.Errorf("virt: list domains: %w", err)
	}
	out := make([]Domain, 0, len(doms))
	for i := range doms {
		dom := &doms[i]
		name, err := dom.GetName()
		if err != nil {
			freeDomains(doms[i:])
			return nil, fmt.Errorf("virt: read domain name: %w", err)
		}
		active, err := dom.IsActive()
		if err != nil {
			freeDomains(doms[i:])
			return nil, fmt.Errorf("virt: read domain state for %s: %w", name, err)
		}
		state := StateStopped
		if active {
			state = StateRunning
		}
		out = append(out, Domain{Name: name, State: state})
		dom.Free()
	}
	return out, nil
}

func (c *LibvirtClient) ListDisks(domain string) ([]Disk, error) {
	doc, err := c.DumpXML(domain)
	if err != nil {
		return nil, err
	}
	return parseDisks(doc)
}

func (c *LibvirtClient) DumpXML(domain string) ([]byte, error) {
	dom, err := c.conn.LookupDomainByName(domain)
	if err != nil {
		return nil, fmt.Errorf("virt: lookup domain %s: %w", domain, err)
	}
	defer dom.Free()
	doc, err := dom.GetXMLDesc(0)
	if err != nil {
		return nil, fmt.Errorf("virt: dump xml for %s: %w", domain, err)
	}
	return []byte(doc), nil
}

func (c *LibvirtClient) CreateExternalSnapshot(domain, target, overlayPath, snapshotName string) error {
	dom, err := c.conn.LookupDomainByName(domain)
	if err != nil {
		return fmt.Errorf("virt: lookup domain %s: %w", domain, err)
	}
	defer dom.Free()

	disks, err := c.ListDisks(domain)
	if err != nil {
		return err
	}
	targets := make([]string, 0, len(disks))
	for _, d := range disks {
		targets = append(targets, d.Target)
	}
	doc, err := buildSnapshotXML(snapshotName, target, overlayPath, targets)
	if err != nil {
		return err
	}

	flags := libvirt.DOMAIN_SNAPSHOT_CREATE_DISK_ONLY |
		libvirt.DOMAIN_SNAPSHOT_CREATE_ATOMIC |
		libvirt.DOMAIN_SNAPSHOT_CREATE_NO_METADATA
	snap, err := dom.SnapshotCreateXML(string(doc), flags)
	if err != nil {
		return fmt.Errorf("virt: create external snapshot %s/%s: %w", domain, target, err)
	}
	snap.Free()
	return nil
}

// CommitDisk starts an active block commit and blocks until the job drains,
// then pivots the domain back onto the merged base.
func (c *LibvirtClient) CommitDisk(domain, target string) error {
	dom, err := c.conn.LookupDomainByName(domain)
	if err != nil {
		return fmt.Errorf("virt: lookup domain %s: %w", domain, err)
	}
	defer dom.Free()

	if err := dom.BlockCommit(target, "", "", 0, libvirt.DOMAIN_BLOCK_COMMIT_ACTIVE); err != nil {
		return fmt.Errorf("virt: start block commit %s/%s: %w", domain, target, err)
	}
	for first := true; ; first = false {
		info, err := dom.GetBlockJobInfo(target, 0)
		if err != nil {
			return fmt.Errorf("virt: query block commit job %s/%s: %w", domain, target, err)
		}
		if info == nil {
			// Job vanished without reaching ready; nothing left to pivot.
			return fmt.Errorf("virt: block commit job %s/%s disappeared before completion", domain, target)
		}
		if commitJobDrained(info.Cur, info.End, first) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err := dom.BlockJobAbort(target, libvirt.DOMAIN_BLOCK_JOB_ABORT_PIVOT); err != nil {
		return fmt.Errorf("virt: pivot after block commit %s/%s: %w", domain, target, err)
	}
	return nil
}

// commitJobDrained reports whether the active commit has caught up and is
// safe to pivot. A job with nothing to merge can report End == 0 at ready,
// so a zeroed report only means "still starting" on the first poll.
func commitJobDrained(cur, end uint64, first bool) bool {
	if end > 0 {
		return cur >= end
	}
	return !first
}

func freeDomains(doms []libvirt.Domain) {
	for i := range doms {
		doms[i].Free()
	}
}
