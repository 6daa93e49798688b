// Package planner builds a BatchPlan from the vSphere inventory: filtering
// VMs into scope, suggesting target instance types, and estimating the
// time and disk space a batch run will need.
package planner

import (
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	"github.com/scaleway/vmware2scw/internal/catalog"
)

// InventoryFilter narrows the inventory by a set of key:value predicates.
// Predicates for different keys AND together; multiple values for the same
// key OR together. A bare string (no "key:" prefix) is shorthand for a name
// glob match.
type InventoryFilter struct {
	predicates map[string][]string
	log        *zap.SugaredLogger
}

// FromCLIFilters parses a list of "key:value" strings (or bare name
// patterns) the way the operator-facing --filter flag does. An unknown key
// produces a warning and is ignored entirely, rather than silently
// narrowing the result set on a typo'd key.
func FromCLIFilters(filters []string) *InventoryFilter {
	f := &InventoryFilter{predicates: map[string][]string{}, log: zap.S().Named("filter")}
	for _, raw := range filters {
		key, value, ok := strings.Cut(raw, ":")
		if !ok {
			f.add("name", raw)
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !validKeys[key] {
			f.log.Warnw("ignoring unknown filter key", "key", key, "raw", raw)
			continue
		}
		f.add(key, strings.TrimSpace(value))
	}
	return f
}

var validKeys = map[string]bool{
	"name": true, "regex": true, "folder": true, "os": true, "os_id": true,
	"tag": true, "host": true, "cluster": true, "dc": true, "state": true,
	"firmware": true,
}

func (f *InventoryFilter) add(key, value string) {
	f.predicates[key] = append(f.predicates[key], value)
}

// Matches reports whether vm satisfies every predicate key (AND), where
// each key's values are OR'd together.
func (f *InventoryFilter) Matches(vm v1.VMRecord) bool {
	for key, values := range f.predicates {
		if !matchesKey(vm, key, values) {
			return false
		}
	}
	return true
}

func matchesKey(vm v1.VMRecord, key string, values []string) bool {
	for _, v := range values {
		if matchesOne(vm, key, v) {
			return true
		}
	}
	return false
}

func matchesOne(vm v1.VMRecord, key, value string) bool {
	lower := strings.ToLower(value)
	switch key {
	case "name":
		return globMatch(value, vm.Name)
	case "regex":
		re, err := regexp.Compile(value)
		return err == nil && re.MatchString(vm.Name)
	case "folder":
		return strings.HasPrefix(vm.Folder, value)
	case "os":
		return string(catalog.Classify(vm.GuestOSID)) == lower
	case "os_id":
		return globMatch(value, vm.GuestOSID)
	case "tag":
		for _, t := range vm.Tags {
			if strings.EqualFold(t, value) {
				return true
			}
		}
		return false
	case "host":
		return globMatch(value, vm.Host)
	case "cluster":
		return globMatch(value, vm.Cluster)
	case "dc":
		return strings.EqualFold(vm.Datacenter, value)
	case "state":
		return strings.Contains(strings.ToLower(string(vm.PowerState)), lower)
	case "firmware":
		return strings.EqualFold(string(vm.Firmware), value)
	default:
		return false
	}
}

// globMatch applies shell-style glob syntax (*, ?, [ranges]) case-
// insensitively, since vSphere names and guest ids carry no path
// separators for filepath.Match to trip over.
func globMatch(pattern, value string) bool {
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(value))
	return err == nil && ok
}

// Apply returns the subset of vms matching f.
func (f *InventoryFilter) Apply(vms []v1.VMRecord) []v1.VMRecord {
	var out []v1.VMRecord
	for _, vm := range vms {
		if f.Matches(vm) {
			out = append(out, vm)
		}
	}
	return out
}
