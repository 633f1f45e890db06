package backup

import "time"

// timestampLayout is sortable, so lexical archive ordering matches creation
// order.
const timestampLayout = "2006-01-02T15:04:05"

// snapshotStampLayout names RBD snapshots; colons are avoided there.
const snapshotStampLayout = "20060102T150405"

func deviceKey(domain, target string, now time.Time) string {
	return domain + "-" + target + "-" + now.UTC().Format(timestampLayout)
}

func deviceGlob(domain, target string) string {
	return domain + "-" + target + "-*"
}

func configKey(domain string, now time.Time) string {
	return domain + "-xml-" + now.UTC().Format(timestampLayout)
}

func configGlob(domain string) string {
	return domain + "-xml-*"
}

func imageKey(image string, now time.Time) string {
	return image + "-" + now.UTC().Format(timestampLayout)
}

func imageGlob(image string) string {
	return image + "-*"
}

func poolSnapshotName(now time.Time) string {
	return "backup-" + now.UTC().Format(snapshotStampLayout)
}
