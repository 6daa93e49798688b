package orchestrator

import (
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	v1 "github.com/scaleway/vmware2scw/api/v1"
)

// BuildWaves partitions jobs into wave groups following plan.Waves' VM name
// lists, in the order the plan declares waves; any job whose VMName isn't
// listed in any wave is appended to one final implicit wave. When the plan
// declares no waves at all, waves are derived implicitly from each job's
// Priority: one wave per distinct priority value, ascending, each
// continuing straight into the next.
func BuildWaves(jobs []*v1.VMJob, planWaves []v1.Wave) ([][]*v1.VMJob, []v1.PauseAfter) {
	if len(planWaves) == 0 {
		waves := wavesByPriority(jobs)
		pauses := make([]v1.PauseAfter, len(waves))
		for i := range pauses {
			pauses[i] = v1.PauseContinue
		}
		return waves, pauses
	}

	byName := make(map[string]*v1.VMJob, len(jobs))
	for _, j := range jobs {
		byName[j.VMName] = j
	}

	var waves [][]*v1.VMJob
	var pauses []v1.PauseAfter
	assigned := make(map[string]bool, len(jobs))

	for _, w := range planWaves {
		var group []*v1.VMJob
		for _, name := range w.VMs {
			if job, ok := byName[name]; ok && !assigned[name] {
				group = append(group, job)
				assigned[name] = true
			}
		}
		waves = append(waves, group)
		pauses = append(pauses, w.PauseAfter)
	}

	var rest []*v1.VMJob
	for _, j := range jobs {
		if !assigned[j.VMName] {
			rest = append(rest, j)
		}
	}
	if len(rest) > 0 {
		waves = append(waves, rest)
		pauses = append(pauses, v1.PauseContinue)
	}

	return waves, pauses
}

// wavesByPriority groups jobs into ascending-priority waves, preserving each
// job's relative order within its priority group.
func wavesByPriority(jobs []*v1.VMJob) [][]*v1.VMJob {
	if len(jobs) == 0 {
		return [][]*v1.VMJob{jobs}
	}
	groups := map[int][]*v1.VMJob{}
	var priorities []int
	for _, j := range jobs {
		if _, ok := groups[j.Priority]; !ok {
			priorities = append(priorities, j.Priority)
		}
		groups[j.Priority] = append(groups[j.Priority], j)
	}
	sort.Ints(priorities)
	waves := make([][]*v1.VMJob, 0, len(priorities))
	for _, p := range priorities {
		waves = append(waves, groups[p])
	}
	return waves
}

// JobsFromPlan expands a BatchPlan's migrations into runnable VMJobs, one
// per resolved VM, looking up each VM's source host from vms. OSFamily and
// Firmware are left for the validate stage to fill from a freshly-resolved
// VMRecord — classifying from the plan-time snapshot here would let a VM
// reconfigured between planning and running drive the wrong stage sequence.
// Each MigrationEntry names its VMs either by an exact VMName or by a
// VMPattern glob matched against every known VM name (a pattern matching
// zero VMs contributes nothing and isn't an error); a VM already claimed by
// an earlier entry is not claimed again. plan.Exclude is applied last,
// dropping any resolved VM whose name matches an ExcludeEntry's VMName or
// VMPattern, so an exclusion always wins over an overlapping migration.
func JobsFromPlan(plan *v1.BatchPlan, vms map[string]v1.VMRecord) []*v1.VMJob {
	excluded := excludedNames(plan.Exclude, vms)

	jobs := make([]*v1.VMJob, 0, len(plan.Migrations))
	claimed := make(map[string]bool, len(plan.Migrations))
	for _, m := range plan.Migrations {
		for _, name := range resolveEntryNames(m, vms) {
			if claimed[name] || excluded[name] {
				continue
			}
			claimed[name] = true

			vm := vms[name]
			zone := m.Zone
			if zone == "" {
				zone = plan.Defaults.Zone
			}
			jobs = append(jobs, &v1.VMJob{
				VMName:         name,
				MigrationID:    uuid.NewString()[:8],
				TargetType:     m.TargetType,
				Zone:           zone,
				OSFamily:       v1.OSFamilyUnknown,
				SourceHost:     vm.Host,
				TotalDiskGB:    vm.TotalDiskGB(),
				Priority:       m.Priority,
				Wave:           m.Wave,
				Tags:           m.Tags,
				NetworkMapping: m.NetworkMapping,
				SkipValidation: m.SkipValidation,
				Status:         v1.VMStatusPending,
			})
		}
	}
	return jobs
}

// resolveEntryNames expands one MigrationEntry into the sorted VM names it
// covers: the literal VMName if set and present in vms, or every vms key
// VMPattern matches.
func resolveEntryNames(m v1.MigrationEntry, vms map[string]v1.VMRecord) []string {
	if m.VMName != "" {
		if _, ok := vms[m.VMName]; ok {
			return []string{m.VMName}
		}
		return nil
	}
	if m.VMPattern == "" {
		return nil
	}
	return matchNames(m.VMPattern, vms)
}

// excludedNames expands every ExcludeEntry the same way a MigrationEntry
// resolves, returning the set of VM names the batch must not touch.
func excludedNames(excludes []v1.ExcludeEntry, vms map[string]v1.VMRecord) map[string]bool {
	out := make(map[string]bool, len(excludes))
	for _, e := range excludes {
		if e.VMName != "" {
			out[e.VMName] = true
			continue
		}
		if e.VMPattern == "" {
			continue
		}
		for _, name := range matchNames(e.VMPattern, vms) {
			out[name] = true
		}
	}
	return out
}

// matchNames returns the sorted names in vms matching the glob pattern,
// using the same shell-style syntax filepath.Match applies to a path
// segment (*, ?, [ranges]) since VM names never contain path separators.
func matchNames(pattern string, vms map[string]v1.VMRecord) []string {
	var names []string
	for name := range vms {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
