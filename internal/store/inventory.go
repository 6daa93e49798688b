package store

import (
	"context"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"

	v1 "github.com/scaleway/vmware2scw/api/v1"
)

// InventoryStore caches the VMRecord set produced by one vSphere inventory
// walk and serves InventoryFilter queries against it with squirrel-built SQL
// instead of re-walking vCenter for every filter/estimate call.
type InventoryStore struct {
	db QueryInterceptor
}

func NewInventoryStore(db QueryInterceptor) *InventoryStore {
	return &InventoryStore{db: db}
}

// Replace truncates the cache and inserts the given records as the new
// inventory snapshot. Called once per plan-build / inventory-refresh.
func (s *InventoryStore) Replace(ctx context.Context, vms []v1.VMRecord) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vm_inventory`); err != nil {
		return err
	}
	for _, vm := range vms {
		raw, err := json.Marshal(vm)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO vm_inventory
				(moref, name, power_state, host, cluster, datacenter, guest_os_id, total_disk_gb, memory_mb, cpu, firmware, tags, record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			vm.Moref, vm.Name, string(vm.PowerState), vm.Host, vm.Cluster, vm.Datacenter,
			vm.GuestOSID, vm.TotalDiskGB(), vm.MemoryMB, vm.CPU, string(vm.Firmware),
			joinTags(vm.Tags), raw,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// List returns the cached VMRecords matching the given ListOptions.
func (s *InventoryStore) List(ctx context.Context, opts ...ListOption) ([]v1.VMRecord, error) {
	builder := sq.Select("record").From("vm_inventory")
	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vms []v1.VMRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var vm v1.VMRecord
		if err := json.Unmarshal(raw, &vm); err != nil {
			return nil, err
		}
		vms = append(vms, vm)
	}
	return vms, rows.Err()
}

// Count returns the number of cached VMRecords matching the given options.
func (s *InventoryStore) Count(ctx context.Context, opts ...ListOption) (int, error) {
	builder := sq.Select("COUNT(*)").From("vm_inventory")
	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// ListOption narrows an InventoryStore query; options compose by AND.
type ListOption func(sq.SelectBuilder) sq.SelectBuilder

func ByDatacenters(datacenters ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(datacenters) == 0 {
			return b
		}
		return b.Where(sq.Eq{"datacenter": datacenters})
	}
}

func ByClusters(clusters ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(clusters) == 0 {
			return b
		}
		return b.Where(sq.Eq{"cluster": clusters})
	}
}

func ByHosts(hosts ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(hosts) == 0 {
			return b
		}
		return b.Where(sq.Eq{"host": hosts})
	}
}

func ByPowerState(states ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(states) == 0 {
			return b
		}
		return b.Where(sq.Eq{"power_state": states})
	}
}

func ByGuestOS(ids ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(ids) == 0 {
			return b
		}
		return b.Where(sq.Eq{"guest_os_id": ids})
	}
}

func ByDiskSizeRange(min, max float64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.And{
			sq.GtOrEq{"total_disk_gb": min},
			sq.Lt{"total_disk_gb": max},
		})
	}
}

func ByMemorySizeRange(min, max int64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.And{
			sq.GtOrEq{"memory_mb": min},
			sq.Lt{"memory_mb": max},
		})
	}
}

func WithLimit(limit uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Limit(limit)
	}
}

func WithOffset(offset uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Offset(offset)
	}
}

func WithDefaultSort() ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.OrderBy("name")
	}
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
