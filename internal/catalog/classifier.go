package catalog

import (
	"fmt"
	"strings"

	v1 "github.com/scaleway/vmware2scw/api/v1"
)

// guestOSMap is the exact vSphere guestId -> OS family lookup, covering the
// common identifiers before falling back to a substring match.
var guestOSMap = map[string]v1.OSFamily{
	"rhel9_64Guest":      v1.OSFamilyLinux,
	"rhel8_64Guest":      v1.OSFamilyLinux,
	"rhel7_64Guest":      v1.OSFamilyLinux,
	"centos8_64Guest":    v1.OSFamilyLinux,
	"centos7_64Guest":    v1.OSFamilyLinux,
	"ubuntu64Guest":      v1.OSFamilyLinux,
	"debian11_64Guest":   v1.OSFamilyLinux,
	"debian10_64Guest":   v1.OSFamilyLinux,
	"sles15_64Guest":     v1.OSFamilyLinux,
	"other5xLinux64Guest": v1.OSFamilyLinux,
	"windows9_64Guest":       v1.OSFamilyWindows,
	"windows9Server64Guest":  v1.OSFamilyWindows,
	"windows2019srv_64Guest": v1.OSFamilyWindows,
	"windows2022srvNext_64Guest": v1.OSFamilyWindows,
	"windows8Server64Guest":  v1.OSFamilyWindows,
}

// Classify maps a guestId to an OSFamily. It is a thin wrapper over
// ClassifyLabel for callers that don't need the human-readable label.
func Classify(guestID string) v1.OSFamily {
	fam, _ := ClassifyLabel(guestID)
	return fam
}

// ClassifyLabel maps a guestId to an OSFamily and a human-readable label,
// falling back to a case-insensitive substring match against "win"/the
// known Linux distribution names when the exact identifier is not in
// guestOSMap — vSphere mints new guestId suffixes with every ESXi release,
// so the exact map alone would go stale too quickly. A guestId that matches
// neither still classifies as linux, labelled Unknown(<id>): OSFamilyUnknown
// is reserved for a VMJob that hasn't been through validate yet, not for a
// legitimate classifier outcome, so this fails open and lets the pipeline
// attempt the VM rather than refusing to handle it.
func ClassifyLabel(guestID string) (v1.OSFamily, string) {
	if fam, ok := guestOSMap[guestID]; ok {
		return fam, guestID
	}
	lower := strings.ToLower(guestID)
	switch {
	case strings.Contains(lower, "win"):
		return v1.OSFamilyWindows, guestID
	case strings.Contains(lower, "linux"),
		strings.Contains(lower, "ubuntu"),
		strings.Contains(lower, "debian"),
		strings.Contains(lower, "centos"),
		strings.Contains(lower, "rhel"),
		strings.Contains(lower, "rocky"),
		strings.Contains(lower, "alma"),
		strings.Contains(lower, "suse"),
		strings.Contains(lower, "fedora"):
		return v1.OSFamilyLinux, guestID
	default:
		return v1.OSFamilyLinux, fmt.Sprintf("Unknown(%s)", guestID)
	}
}
