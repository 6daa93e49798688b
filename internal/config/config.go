package config

import (
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// VMware holds the vCenter connection the source collaborator dials.
type VMware struct {
	VCenter    string `yaml:"vcenter" default:""`
	Username   string `yaml:"username" default:""`
	Password   string `yaml:"password" default:""`
	Insecure   bool   `yaml:"insecure" default:"false"`
	Datacenter string `yaml:"datacenter" default:""`
}

// Scaleway holds the target account and object-storage settings.
type Scaleway struct {
	AccessKey      string `yaml:"access_key" default:""`
	SecretKey      string `yaml:"secret_key" default:""`
	OrganizationID string `yaml:"organization_id" default:""`
	ProjectID      string `yaml:"project_id" default:""`
	DefaultZone    string `yaml:"default_zone" default:"fr-par-1"`
	Region         string `yaml:"region" default:"fr-par"`
	S3Region       string `yaml:"s3_region" default:"fr-par"`
	S3Bucket       string `yaml:"s3_bucket" default:""`
	S3Endpoint     string `yaml:"s3_endpoint" default:""`
}

// Conversion holds local tool paths and the scratch work directory.
type Conversion struct {
	WorkDir           string `yaml:"work_dir" default:"/var/tmp/vmware2scw"`
	VirtioWinISO      string `yaml:"virtio_win_iso" default:""`
	OVMFPath          string `yaml:"ovmf_path" default:"/usr/share/OVMF/OVMF_CODE.fd"`
	CompressQcow2     bool   `yaml:"compress_qcow2" default:"true"`
	KeepIntermediates bool   `yaml:"keep_intermediates" default:"false"`
	QemuImgPath       string `yaml:"qemu_img_path" default:"qemu-img"`
	VirtCustomizePath string `yaml:"virt_customize_path" default:"virt-customize"`
}

// Orchestrator holds the batch runner's concurrency budgets and durable
// state directory.
type Orchestrator struct {
	StateDir    string          `yaml:"state_dir" default:"/var/lib/vmware2scw/state"`
	Concurrency v1.Concurrency  `yaml:"concurrency"`
}

// Dashboard holds the optional webhook sink settings; Enabled false means
// the orchestrator never posts status updates anywhere.
type Dashboard struct {
	Enabled    bool   `yaml:"enabled" default:"false"`
	WebhookURL string `yaml:"webhook_url" default:""`
	JWTSecret  string `yaml:"jwt_secret" default:""`
}

// Config is the root configuration document.
type Config struct {
	VMware       VMware       `yaml:"vmware"`
	Scaleway     Scaleway     `yaml:"scaleway"`
	Conversion   Conversion   `yaml:"conversion"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Dashboard    Dashboard    `yaml:"dashboard"`
	LogFormat    string       `yaml:"log_format" default:"console"`
	LogLevel     string       `yaml:"log_level" default:"info"`
}

// NewDefault returns a Config with every default tag applied and the
// orchestrator's default concurrency budgets filled in.
func NewDefault() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.Orchestrator.Concurrency = v1.DefaultConcurrency()
	return cfg
}

// FromYAML loads a config document, applying defaults to any field the
// document omits.
func FromYAML(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, vmerrors.NewConfigurationError("reading config %s: %v", path, err)
	}
	cfg := NewDefault()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, vmerrors.NewConfigurationError("parsing config %s: %v", path, err)
	}
	return cfg, nil
}

// LoadEnv overlays environment-variable overrides onto cfg, following the
// same variable names the original tooling used: VMWARE_VCENTER,
// VMWARE_USERNAME, VMWARE_PASSWORD, VMWARE_INSECURE, SCW_ACCESS_KEY,
// SCW_SECRET_KEY, SCW_ORGANIZATION_ID, SCW_PROJECT_ID, SCW_DEFAULT_ZONE,
// SCW_S3_BUCKET, SCW_S3_REGION.
func (c *Config) LoadEnv() {
	str(&c.VMware.VCenter, "VMWARE_VCENTER")
	str(&c.VMware.Username, "VMWARE_USERNAME")
	str(&c.VMware.Password, "VMWARE_PASSWORD")
	boolean(&c.VMware.Insecure, "VMWARE_INSECURE")
	str(&c.Scaleway.AccessKey, "SCW_ACCESS_KEY")
	str(&c.Scaleway.SecretKey, "SCW_SECRET_KEY")
	str(&c.Scaleway.OrganizationID, "SCW_ORGANIZATION_ID")
	str(&c.Scaleway.ProjectID, "SCW_PROJECT_ID")
	str(&c.Scaleway.DefaultZone, "SCW_DEFAULT_ZONE")
	str(&c.Scaleway.S3Bucket, "SCW_S3_BUCKET")
	str(&c.Scaleway.S3Region, "SCW_S3_REGION")
}

func str(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func boolean(dst *bool, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// WriteYAML serializes cfg with every password/secret field redacted, the
// way the original tooling's to_yaml never persisted credentials to disk.
func (c *Config) WriteYAML(path string) error {
	redacted := *c
	redacted.VMware.Password = redactedIfSet(c.VMware.Password)
	redacted.Scaleway.SecretKey = redactedIfSet(c.Scaleway.SecretKey)
	redacted.Dashboard.JWTSecret = redactedIfSet(c.Dashboard.JWTSecret)

	raw, err := yaml.Marshal(redacted)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func redactedIfSet(v string) string {
	if v == "" {
		return ""
	}
	return "***REDACTED***"
}

// Validate reports a Configuration error for any field required to start a
// batch run.
func (c *Config) Validate() error {
	if c.VMware.VCenter == "" || c.VMware.Username == "" {
		return vmerrors.NewConfigurationError("vmware.vcenter and vmware.username are required")
	}
	if c.Scaleway.AccessKey == "" || c.Scaleway.SecretKey == "" {
		return vmerrors.NewConfigurationError("scaleway.access_key and scaleway.secret_key are required")
	}
	if c.Scaleway.S3Bucket == "" {
		return vmerrors.NewConfigurationError("scaleway.s3_bucket is required")
	}
	return nil
}

// UpdateInterval is a five-second status-update period. Nothing in this
// tree reads it: the orchestrator evaluates a wave's completion when all of
// its VM pipelines have returned, and the Dashboard posts on each progress
// callback rather than on a timer.
const UpdateInterval = 5 * time.Second
