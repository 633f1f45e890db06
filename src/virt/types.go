// Package virt is the typed adapter to the virtualization layer. The
// coordinator never parses hypervisor output itself; everything arrives as
// records through this interface.
package virt

// DomainState is the run-state of a domain as far as backups care: a stopped
// domain's disks are quiescent and can be read directly.
type DomainState string

const (
	StateRunning DomainState = "running"
	StateStopped DomainState = "stopped"
)

// Domain is a guarded virtual machine.
type Domain struct {
	Name  string
	State DomainState
}

// Disk is one block device attached to a domain.
type Disk struct {
	// Target is the device tag, e.g. vda.
	Target string
	// Source is the backing image locator: a local path or pool/image name.
	Source string
	// Format is the image format reported by the driver element, e.g. qcow2.
	Format string
	// Device distinguishes disk from cdrom media.
	Device string
}

// Client is the narrow hypervisor interface the backup flow needs. Keep it
// small so the fake stays trivial.
type Client interface {
	// ListDomains returns all domains with their run-state.
	ListDomains() ([]Domain, error)
	// ListDisks returns the block devices of one domain.
	ListDisks(domain string) ([]Disk, error)
	// DumpXML returns the domain's configuration descriptor.
	DumpXML(domain string) ([]byte, error)
	// CreateExternalSnapshot takes a disk-only, atomic, metadata-less
	// copy-on-write overlay for the named disk, leaving all other disks
	// untouched. The domain's active image becomes overlayPath.
	CreateExternalSnapshot(domain, target, overlayPath, snapshotName string) error
	// CommitDisk merges the active overlay of the named disk back into its
	// base image and pivots the domain onto the merged result. Blocks until
	// the commit job completes.
	CommitDisk(domain, target string) error
}
