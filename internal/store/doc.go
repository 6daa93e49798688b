// Package store implements the inventory cache backing InventoryFilter and
// the batch planner, using DuckDB combined with squirrel-built SQL.
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Store (facade)                          │
//	├─────────────────────────────────────────────────────────────────┤
//	│                        InventoryStore                           │
//	│                             ▼                                   │
//	│                        vm_inventory                             │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Data Source
//
// vm_inventory is populated once per ListVMs() call from the vSphere
// collaborator (pkg/vmware) via InventoryStore.Replace, which truncates and
// reinserts the full VMRecord set. It is never partially updated: a stale
// cache is refreshed wholesale, never patched row by row.
//
// Schema:
//
//	vm_inventory (
//	    moref          VARCHAR PRIMARY KEY,
//	    name           VARCHAR NOT NULL,
//	    power_state    VARCHAR NOT NULL,
//	    host           VARCHAR,
//	    cluster        VARCHAR,
//	    datacenter     VARCHAR,
//	    guest_os_id    VARCHAR,
//	    total_disk_gb  DOUBLE,
//	    memory_mb      BIGINT,
//	    cpu            INTEGER,
//	    firmware       VARCHAR,
//	    tags           VARCHAR,
//	    record         JSON NOT NULL  -- full VMRecord, returned as-is by List
//	)
//
// The flat columns serve the ListOption predicates below; record is what
// List returns to callers, round-tripped through JSON so no field is lost
// to the cache. InventoryFilter does not push its key:value predicates into
// SQL: it filters the records List returns in memory.
//
// # InventoryStore
//
// Provides read access via the functional options pattern: each ListOption
// is a function that narrows a squirrel.SelectBuilder, and options compose
// by AND.
//
//	vms, err := store.Inventory().List(ctx,
//	    store.ByClusters("prod-cluster"),
//	    store.ByPowerState("poweredOn"),
//	    store.WithDefaultSort(),
//	    store.WithLimit(50),
//	)
//
// # QueryInterceptor
//
// All database operations are wrapped with a QueryInterceptor that logs
// every query at debug level, and lets tests substitute a bare *sql.DB
// without constructing a full Store.
package store
