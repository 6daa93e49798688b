// Package vmware is the source-side collaborator: it talks to vCenter over
// govmomi to list inventory, take and remove snapshots, and export virtual
// disks to the local work directory for the conversion stage to pick up.
package vmware

import (
	"context"
	"net/url"

	"github.com/vmware/govmomi"
	"go.uber.org/zap"

	v1 "github.com/scaleway/vmware2scw/api/v1"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// VMOperator is the subset of VMManager a caller depends on; it exists so
// the pipeline and tests can swap in a fake source collaborator.
type VMOperator interface {
	ValidatePrivileges(ctx context.Context, moid string, requiredPrivileges []string) error
	ResolveVM(ctx context.Context, name string) (v1.VMRecord, error)
	CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) error
	RemoveSnapshot(ctx context.Context, req RemoveSnapshotRequest) error
	ExportDisks(ctx context.Context, moid, destDir string, progress func(pct float64)) ([]string, error)
}

// VMManager is the concrete govmomi-backed VMOperator.
type VMManager struct {
	gc       *govmomi.Client
	username string
	log      *zap.SugaredLogger
}

// Config is the connection configuration for a vCenter session.
type Config struct {
	VCenter  string
	Username string
	Password string
	Insecure bool
}

// NewVMManager opens and authenticates a vCenter session.
func NewVMManager(ctx context.Context, cfg Config) (*VMManager, error) {
	u, err := url.Parse(cfg.VCenter)
	if err != nil {
		return nil, vmerrors.NewConfigurationError("invalid vcenter url %q: %v", cfg.VCenter, err)
	}
	u.User = url.UserPassword(cfg.Username, cfg.Password)

	gc, err := govmomi.NewClient(ctx, u, cfg.Insecure)
	if err != nil {
		return nil, vmerrors.NewTransientError(err, "connecting to vcenter %s", u.Host)
	}

	return &VMManager{gc: gc, username: cfg.Username, log: zap.S().Named("vmware")}, nil
}

// Close logs the session out.
func (m *VMManager) Close(ctx context.Context) error {
	return m.gc.Logout(ctx)
}
