// Package v1 defines the wire-level data model shared by the CLI, the plan
// and state documents, and the batch engine: VMRecord, InstanceTypeSpec,
// BatchPlan, VMJob, VMStatus and BatchState, as laid out in the data model
// section of the specification.
package v1

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// PowerState is the closed set of VMware power states the core reads.
type PowerState string

const (
	PowerStateOn        PowerState = "poweredOn"
	PowerStateOff       PowerState = "poweredOff"
	PowerStateSuspended PowerState = "suspended"
)

// Firmware is the closed set of guest firmware types.
type Firmware string

const (
	FirmwareBIOS Firmware = "bios"
	FirmwareEFI  Firmware = "efi"
)

// Controller is the closed set of supported disk controller kinds.
type Controller string

const (
	ControllerSCSI Controller = "scsi"
	ControllerNVMe Controller = "nvme"
	ControllerIDE  Controller = "ide"
)

// Disk describes one virtual disk attached to a VMRecord. Disk 0 is always
// the boot disk — the only disk an OS-adaptation stage inspects.
type Disk struct {
	SizeGB     float64    `json:"size_gb" yaml:"size_gb"`
	Thin       bool       `json:"thin" yaml:"thin"`
	Datastore  string     `json:"datastore" yaml:"datastore"`
	FilePath   string     `json:"file_path" yaml:"file_path"`
	Controller Controller `json:"controller" yaml:"controller"`
}

// NIC describes one virtual network interface.
type NIC struct {
	Name    string `json:"name" yaml:"name"`
	Network string `json:"network" yaml:"network"`
	MAC     string `json:"mac,omitempty" yaml:"mac,omitempty"`
}

// Snapshot is a source-side snapshot entry as reported by the inventory.
type Snapshot struct {
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// VMRecord is a read-only snapshot of one source VM, constructed once at
// plan time and never mutated afterward. The core reads it, never writes it.
type VMRecord struct {
	Name         string     `json:"name" yaml:"name"`
	Moref        string     `json:"moref" yaml:"moref"`
	PowerState   PowerState `json:"power_state" yaml:"power_state"`
	CPU          int        `json:"cpu" yaml:"cpu"`
	MemoryMB     int64      `json:"memory_mb" yaml:"memory_mb"`
	GuestOSID    string     `json:"guest_os_id" yaml:"guest_os_id"`
	GuestOSFull  string     `json:"guest_os_full" yaml:"guest_os_full"`
	Firmware     Firmware   `json:"firmware" yaml:"firmware"`
	Disks        []Disk     `json:"disks" yaml:"disks"`
	NICs         []NIC      `json:"nics" yaml:"nics"`
	Host         string     `json:"host" yaml:"host"`
	Cluster      string     `json:"cluster" yaml:"cluster"`
	Datacenter   string     `json:"datacenter" yaml:"datacenter"`
	Folder       string     `json:"folder" yaml:"folder"`
	Tags         []string   `json:"tags" yaml:"tags"`
	ToolsStatus  string     `json:"tools_status" yaml:"tools_status"`
	UUID         string     `json:"uuid" yaml:"uuid"`
	Snapshots    []Snapshot `json:"snapshots" yaml:"snapshots"`
}

// TotalDiskGB sums the size of every disk.
func (v VMRecord) TotalDiskGB() float64 {
	var total float64
	for _, d := range v.Disks {
		total += d.SizeGB
	}
	return total
}

// MemoryGB is MemoryMB expressed in GiB as a float.
func (v VMRecord) MemoryGB() float64 {
	return float64(v.MemoryMB) / 1024
}

// InstanceCategory is the closed set of Scaleway instance categories.
type InstanceCategory string

const (
	CategoryDevelopment InstanceCategory = "development"
	CategoryGeneral     InstanceCategory = "general"
	CategoryCompute     InstanceCategory = "compute"
	CategoryMemory      InstanceCategory = "memory"
	CategoryGPU         InstanceCategory = "gpu"
)

// InstanceTypeSpec describes one target Scaleway instance shape. The full
// catalog is frozen at program start and looked up by name in O(1).
type InstanceTypeSpec struct {
	Name            string            `json:"name" yaml:"name"`
	VCPUs           int               `json:"vcpus" yaml:"vcpus"`
	RAM             resource.Quantity `json:"ram_gb" yaml:"ram_gb"`
	Category        InstanceCategory  `json:"category" yaml:"category"`
	SharedVCPU      bool              `json:"shared_vcpu" yaml:"shared_vcpu"`
	Windows         bool              `json:"windows" yaml:"windows"`
	BlockStorage    bool              `json:"block_storage" yaml:"block_storage"`
	LocalStorage    resource.Quantity `json:"local_storage_gb" yaml:"local_storage_gb"`
	MaxVolumes      int               `json:"max_volumes" yaml:"max_volumes"`
	MaxVolumeSizeGB int               `json:"max_volume_size_gb" yaml:"max_volume_size_gb"`
	PriceHourEUR    float64           `json:"price_hour" yaml:"price_hour"`
}

// RAMGB returns the RAM quantity as a float64 number of GiB.
func (s InstanceTypeSpec) RAMGB() float64 {
	return s.RAM.AsApproximateFloat64()
}

// LocalStorageGB returns the local storage quantity as a float64 number of GiB.
func (s InstanceTypeSpec) LocalStorageGB() float64 {
	return s.LocalStorage.AsApproximateFloat64()
}

func Qty(v float64) resource.Quantity {
	return *resource.NewMilliQuantity(int64(v*1000), resource.DecimalSI)
}

// PauseAfter is the closed set of post-wave behaviors.
type PauseAfter string

const (
	PauseContinue        PauseAfter = "continue"
	PausePause           PauseAfter = "pause"
	PausePauseOnFailure  PauseAfter = "pause_on_failure"
)

// SizingStrategy is the closed set of Mapper.suggest strategies.
type SizingStrategy string

const (
	StrategyExact    SizingStrategy = "exact"
	StrategyOptimize SizingStrategy = "optimize"
	StrategyCost     SizingStrategy = "cost"
)

// PlanDefaults are the batch-wide defaults every migration entry inherits.
type PlanDefaults struct {
	Zone            string            `json:"zone" yaml:"zone"`
	SizingStrategy  SizingStrategy    `json:"sizing_strategy" yaml:"sizing_strategy"`
	Tags            []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	NetworkMapping  map[string]string `json:"network_mapping,omitempty" yaml:"network_mapping,omitempty"`
	SkipValidation  bool              `json:"skip_validation" yaml:"skip_validation"`
}

// Concurrency holds the layered budgets consumed by the BatchOrchestrator.
type Concurrency struct {
	MaxTotalWorkers          int `json:"max_total_workers" yaml:"max_total_workers"`
	MaxExportsPerHost        int `json:"max_exports_per_host" yaml:"max_exports_per_host"`
	MaxConcurrentConversions int `json:"max_concurrent_conversions" yaml:"max_concurrent_conversions"`
	MaxConcurrentUploads     int `json:"max_concurrent_uploads" yaml:"max_concurrent_uploads"`
	MaxConcurrentImports     int `json:"max_concurrent_imports" yaml:"max_concurrent_imports"`
}

// DefaultConcurrency returns the defaults named in the specification.
func DefaultConcurrency() Concurrency {
	return Concurrency{
		MaxTotalWorkers:          10,
		MaxExportsPerHost:        4,
		MaxConcurrentConversions: 3,
		MaxConcurrentUploads:     6,
		MaxConcurrentImports:     5,
	}
}

// MigrationEntry is one line item of a BatchPlan: either a literal VM name
// or a glob pattern, with optional per-entry overrides of the defaults.
type MigrationEntry struct {
	VMName         string            `json:"vm_name,omitempty" yaml:"vm_name,omitempty"`
	VMPattern      string            `json:"vm_pattern,omitempty" yaml:"vm_pattern,omitempty"`
	TargetType     string            `json:"target_type,omitempty" yaml:"target_type,omitempty"`
	Zone           string            `json:"zone,omitempty" yaml:"zone,omitempty"`
	Wave           string            `json:"wave,omitempty" yaml:"wave,omitempty"`
	Priority       int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	SizingStrategy SizingStrategy    `json:"sizing_strategy,omitempty" yaml:"sizing_strategy,omitempty"`
	Tags           []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	NetworkMapping map[string]string `json:"network_mapping,omitempty" yaml:"network_mapping,omitempty"`
	SkipValidation bool              `json:"skip_validation,omitempty" yaml:"skip_validation,omitempty"`
	Notes          string            `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ExcludeEntry removes VMs from the resolved set, applied last.
type ExcludeEntry struct {
	VMName    string `json:"vm_name,omitempty" yaml:"vm_name,omitempty"`
	VMPattern string `json:"vm_pattern,omitempty" yaml:"vm_pattern,omitempty"`
}

// Wave groups migrations executed together and awaited before the next wave.
type Wave struct {
	Name       string     `json:"name" yaml:"name"`
	VMs        []string   `json:"vms,omitempty" yaml:"vms,omitempty"`
	PauseAfter PauseAfter `json:"pause_after,omitempty" yaml:"pause_after,omitempty"`
}

// PlanMetadata summarizes a BatchPlan at build time.
type PlanMetadata struct {
	GeneratedAt  time.Time `json:"generated_at" yaml:"generated_at"`
	SourceID     string    `json:"source_id" yaml:"source_id"`
	TotalVMs     int       `json:"total_vms" yaml:"total_vms"`
	LinuxVMs     int       `json:"linux_vms" yaml:"linux_vms"`
	WindowsVMs   int       `json:"windows_vms" yaml:"windows_vms"`
	TotalDiskGB  float64   `json:"total_disk_gb" yaml:"total_disk_gb"`
}

// BatchPlan is the persistable output of PlanBuilder and the normative
// on-disk plan document. Readers must accept a plan that omits Concurrency,
// Waves, Exclude, and any MigrationEntry field other than VMName/VMPattern.
type BatchPlan struct {
	Version     int              `json:"version" yaml:"version"`
	Metadata    PlanMetadata     `json:"metadata" yaml:"metadata"`
	Defaults    PlanDefaults     `json:"defaults" yaml:"defaults"`
	Concurrency Concurrency      `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Migrations  []MigrationEntry `json:"migrations" yaml:"migrations"`
	Waves       []Wave           `json:"waves,omitempty" yaml:"waves,omitempty"`
	Exclude     []ExcludeEntry   `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// VMStatus is the closed set of per-VM lifecycle states.
type VMStatus string

const (
	VMStatusPending    VMStatus = "pending"
	VMStatusValidating VMStatus = "validating"
	VMStatusExporting  VMStatus = "exporting"
	VMStatusConverting VMStatus = "converting"
	VMStatusAdapting   VMStatus = "adapting"
	VMStatusUploading  VMStatus = "uploading"
	VMStatusImporting  VMStatus = "importing"
	VMStatusVerifying  VMStatus = "verifying"
	VMStatusCleaning   VMStatus = "cleaning"
	VMStatusComplete   VMStatus = "complete"
	VMStatusFailed     VMStatus = "failed"
	VMStatusSkipped    VMStatus = "skipped"
)

// OSFamily is the closed set of guest OS families.
type OSFamily string

const (
	OSFamilyLinux   OSFamily = "linux"
	OSFamilyWindows OSFamily = "windows"
	OSFamilyUnknown OSFamily = "unknown"
)

// Stage is a stage name in a VMPipeline's ordered stage list.
type Stage string

const (
	StageValidate     Stage = "validate"
	StageSnapshot     Stage = "snapshot"
	StageExport       Stage = "export"
	StageConvert      Stage = "convert"
	StageAdaptGuest   Stage = "adapt_guest"
	StageCleanTools   Stage = "clean_tools"
	StageInjectVirtio Stage = "inject_virtio"
	StageFixBootloader Stage = "fix_bootloader"
	StageEnsureUEFI   Stage = "ensure_uefi"
	StageUpload       Stage = "upload"
	StageImport       Stage = "import"
	StageVerify       Stage = "verify"
	StageCleanup      Stage = "cleanup"
)

// LinuxStages is the nominal 10-stage Linux sequence.
func LinuxStages() []Stage {
	return []Stage{StageValidate, StageSnapshot, StageExport, StageConvert, StageAdaptGuest, StageEnsureUEFI, StageUpload, StageImport, StageVerify, StageCleanup}
}

// WindowsStages is the nominal 12-stage Windows sequence.
func WindowsStages() []Stage {
	return []Stage{StageValidate, StageSnapshot, StageExport, StageConvert, StageCleanTools, StageInjectVirtio, StageFixBootloader, StageEnsureUEFI, StageUpload, StageImport, StageVerify, StageCleanup}
}

// StageToStatus maps a stage name to the VMStatus it drives (many-to-one).
func StageToStatus(s Stage) VMStatus {
	switch s {
	case StageValidate:
		return VMStatusValidating
	case StageSnapshot, StageExport:
		return VMStatusExporting
	case StageConvert, StageAdaptGuest, StageCleanTools, StageInjectVirtio, StageFixBootloader, StageEnsureUEFI:
		return VMStatusConverting
	case StageUpload:
		return VMStatusUploading
	case StageImport:
		return VMStatusImporting
	case StageVerify:
		return VMStatusVerifying
	case StageCleanup:
		return VMStatusCleaning
	default:
		return VMStatusPending
	}
}

// Artifacts is the tagged bag of intermediate outputs a VMJob accumulates
// across stages. Per the design notes this is a struct, not an untyped
// map, so resuming with only partial artifacts stays type-safe.
type Artifacts struct {
	VMInfo            *VMRecord `json:"vm_info,omitempty"`
	SnapshotName      string    `json:"snapshot_name,omitempty"`
	DiskPaths         []string  `json:"disk_paths,omitempty"`
	ImagePaths        []string  `json:"image_paths,omitempty"`
	ObjectKeys        []string  `json:"object_keys,omitempty"`
	ObjectBucket      string    `json:"object_bucket,omitempty"`
	TargetSnapshotIDs []string  `json:"target_snapshot_ids,omitempty"`
	TargetImageID     string    `json:"target_image_id,omitempty"`
}

// VMJob is the runtime record of one VM within a batch.
type VMJob struct {
	VMName         string            `json:"vm_name"`
	MigrationID    string            `json:"migration_id"`
	TargetType     string            `json:"target_type"`
	Zone           string            `json:"zone"`
	OSFamily       OSFamily          `json:"os_family"`
	SourceHost     string            `json:"source_host"`
	Firmware       Firmware          `json:"firmware"`
	TotalDiskGB    float64           `json:"total_disk_gb"`
	Priority       int               `json:"priority"`
	Wave           string            `json:"wave"`
	Tags           []string          `json:"tags,omitempty"`
	NetworkMapping map[string]string `json:"network_mapping,omitempty"`
	SkipValidation bool              `json:"skip_validation"`

	Status          VMStatus         `json:"status"`
	CurrentStage    Stage            `json:"current_stage,omitempty"`
	CompletedStages []Stage          `json:"completed_stages"`
	StageTimings    map[Stage]float64 `json:"stage_timings,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	Error       string     `json:"error,omitempty"`
	ErrorStage  Stage      `json:"error_stage,omitempty"`

	Artifacts Artifacts `json:"artifacts"`
}

// IsStageComplete reports whether stage is in CompletedStages.
func (j *VMJob) IsStageComplete(stage Stage) bool {
	for _, s := range j.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// MarkStageComplete appends stage if not already present, preserving the
// no-duplicates invariant.
func (j *VMJob) MarkStageComplete(stage Stage) {
	if !j.IsStageComplete(stage) {
		j.CompletedStages = append(j.CompletedStages, stage)
	}
}

// NextStage computes the next stage to run, fresh on every call: a job
// with unknown OSFamily runs the Linux sequence, so the pipeline starts
// there and, once validate classifies the guest as Windows, the very next
// call picks up the Windows sequence minus whatever's already complete.
// This is deliberately not a cached slice — the OS family can change
// mid-run, and a for-range over a precomputed list would never notice.
func (j *VMJob) NextStage() (Stage, bool) {
	stages := LinuxStages()
	if j.OSFamily == OSFamilyWindows {
		stages = WindowsStages()
	}
	for _, s := range stages {
		if !j.IsStageComplete(s) {
			return s, true
		}
	}
	return "", false
}

// BatchStatus is the closed set of batch-level terminal and transient states.
type BatchStatus string

const (
	BatchStatusPending  BatchStatus = "pending"
	BatchStatusRunning  BatchStatus = "running"
	BatchStatusPaused   BatchStatus = "paused"
	BatchStatusComplete BatchStatus = "complete"
	BatchStatusFailed   BatchStatus = "failed"
	BatchStatusPartial  BatchStatus = "partial"
)

// BatchState is the durable record of one batch run; it owns its VMJobs for
// the lifetime of the batch.
type BatchState struct {
	BatchID      string      `json:"batch_id"`
	Status       BatchStatus `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CurrentWave  int         `json:"current_wave"`
	TotalWaves   int         `json:"total_waves"`
	Jobs         []*VMJob    `json:"jobs"`
}

// Succeeded returns the jobs with status complete.
func (b *BatchState) Succeeded() []*VMJob { return b.filter(VMStatusComplete) }

// Failed returns the jobs with status failed.
func (b *BatchState) Failed() []*VMJob { return b.filter(VMStatusFailed) }

// InProgress returns jobs that are neither terminal nor pending.
func (b *BatchState) InProgress() []*VMJob {
	var out []*VMJob
	for _, j := range b.Jobs {
		switch j.Status {
		case VMStatusPending, VMStatusComplete, VMStatusFailed, VMStatusSkipped:
		default:
			out = append(out, j)
		}
	}
	return out
}

func (b *BatchState) filter(status VMStatus) []*VMJob {
	var out []*VMJob
	for _, j := range b.Jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

// RecomputeStatus derives the batch-level terminal status from its jobs, per
// the BatchState invariants: complete iff every job is complete or skipped;
// partial iff at least one success and at least one failure; failed iff no
// successes and at least one failure.
func (b *BatchState) RecomputeStatus() {
	succeeded, failed, total := 0, 0, len(b.Jobs)
	doneOrSkipped := 0
	for _, j := range b.Jobs {
		switch j.Status {
		case VMStatusComplete:
			succeeded++
			doneOrSkipped++
		case VMStatusSkipped:
			doneOrSkipped++
		case VMStatusFailed:
			failed++
		}
	}
	switch {
	case total > 0 && doneOrSkipped == total:
		b.Status = BatchStatusComplete
	case succeeded > 0 && failed > 0:
		b.Status = BatchStatusPartial
	case succeeded == 0 && failed > 0:
		b.Status = BatchStatusFailed
	}
}
