package virt

import (
	"encoding/xml"
	"fmt"
)

// domainXML models the slice of the libvirt domain document we read.
type domainXML struct {
	Name    string `xml:"name"`
	Devices struct {
		Disks []diskXML `xml:"disk"`
	} `xml:"devices"`
}

type diskXML struct {
	Device string `xml:"device,attr"`
	Driver struct {
		Type string `xml:"type,attr"`
	} `xml:"driver"`
	Source struct {
		File string `xml:"file,attr"`
		Dev  string `xml:"dev,attr"`
		Name string `xml:"name,attr"`
	} `xml:"source"`
	Target struct {
		Dev string `xml:"dev,attr"`
	} `xml:"target"`
}

// parseDisks extracts the block devices from a domain descriptor.
func parseDisks(doc []byte) ([]Disk, error) {
	var dom domainXML
	if err := xml.Unmarshal(doc, &dom); err != nil {
		return nil, fmt.Errorf("virt: parse domain xml: %w", err)
	}
	disks := make([]Disk, 0, len(dom.Devices.Disks))
	for _, d := range dom.Devices.Disks {
		source := d.Source.File
		if source == "" {
			source = d.Source.Dev
		}
		if source == "" {
			source = d.Source.Name
		}
		disks = append(disks, Disk{
			Target: d.Target.Dev,
			Source: source,
			Format: d.Driver.Type,
			Device: d.Device,
		})
	}
	return disks, nil
}

// snapshotXML is the document handed to SnapshotCreateXML: one external
// overlay for the selected disk, every other disk excluded.
type snapshotXML struct {
	XMLName xml.Name          `xml:"domainsnapshot"`
	Name    string            `xml:"name"`
	Disks   []snapshotDiskXML `xml:"disks>disk"`
}

type snapshotDiskXML struct {
	Name     string          `xml:"name,attr"`
	Snapshot string          `xml:"snapshot,attr"`
	Source   *snapshotSrcXML `xml:"source,omitempty"`
}

type snapshotSrcXML struct {
	File string `xml:"file,attr"`
}

func buildSnapshotXML(name, target, overlayPath string, allTargets []string) ([]byte, error) {
	snap := snapshotXML{Name: name}
	for _, t := range allTargets {
		if t == target {
			snap.Disks = append(snap.Disks, snapshotDiskXML{
				Name:     t,
				Snapshot: "external",
				Source:   &snapshotSrcXML{File: overlayPath},
			})
			continue
		}
		snap.Disks = append(snap.Disks, snapshotDiskXML{Name: t, Snapshot: "no"})
	}
	out, err := xml.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("virt: marshal snapshot xml: %w", err)
	}
	return out, nil
}
