package resolvercache

import (
	"context"
	"database/sql"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// ResolvedHost is a cached hostname-to-agent-id mapping.
type ResolvedHost struct {
	CustomerID string
	Hostname   string
	AgentID    string
	Platform   string
}

// Cache is a warm, on-disk store of previously resolved hosts. It outlives
// the process, so multiple orchestrator runs against the same customer share
// resolution work across restarts.
type Cache struct {
	db *sql.DB
}

// New wraps an already-opened, migrated database connection.
func New(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// Get looks up a previously cached agent id for hostname within customerID.
// ok is false on a cache miss; err is only non-nil on a genuine storage fault.
func (c *Cache) Get(ctx context.Context, customerID, hostname string) (ResolvedHost, bool, error) {
	var rh ResolvedHost
	row := c.db.QueryRowContext(ctx,
		`SELECT customer_id, hostname, agent_id, platform FROM resolved_hosts WHERE customer_id = ? AND hostname = ?`,
		customerID, hostname)

	if err := row.Scan(&rh.CustomerID, &rh.Hostname, &rh.AgentID, &rh.Platform); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ResolvedHost{}, false, nil
		}
		return ResolvedHost{}, false, errors.Wrapf(err, "lookup %s/%s", customerID, hostname)
	}

	return rh, true, nil
}

// FindByHostname looks up a cached resolution for hostname without knowing
// its customer-id up front, for a resolver that only learns the customer-id
// as part of resolving. If hostname is cached under more than one
// customer-id, ok is false: the caller must fall through to a live lookup
// rather than guess which tenant it belongs to.
func (c *Cache) FindByHostname(ctx context.Context, hostname string) (ResolvedHost, bool, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT customer_id, hostname, agent_id, platform FROM resolved_hosts WHERE hostname = ?`,
		hostname)
	if err != nil {
		return ResolvedHost{}, false, errors.Wrapf(err, "lookup %s by hostname", hostname)
	}
	defer rows.Close()

	var matches []ResolvedHost
	for rows.Next() {
		var rh ResolvedHost
		if err := rows.Scan(&rh.CustomerID, &rh.Hostname, &rh.AgentID, &rh.Platform); err != nil {
			return ResolvedHost{}, false, errors.Wrapf(err, "scan cached resolution for %s", hostname)
		}
		matches = append(matches, rh)
	}
	if err := rows.Err(); err != nil {
		return ResolvedHost{}, false, errors.Wrapf(err, "iterate cached resolutions for %s", hostname)
	}

	if len(matches) != 1 {
		return ResolvedHost{}, false, nil
	}
	return matches[0], true, nil
}

// Put records a resolution, overwriting any prior entry for the same
// customer/hostname pair (agent ids can legitimately change on re-enrollment).
func (c *Cache) Put(ctx context.Context, rh ResolvedHost) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO resolved_hosts (customer_id, hostname, agent_id, platform)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(customer_id, hostname) DO UPDATE SET
		   agent_id = excluded.agent_id,
		   platform = excluded.platform,
		   resolved_at = CURRENT_TIMESTAMP`,
		rh.CustomerID, rh.Hostname, rh.AgentID, rh.Platform)
	if err != nil {
		return errors.Wrapf(err, "store %s/%s", rh.CustomerID, rh.Hostname)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil && !IsDatabaseClosed(err) {
		return errors.Wrap(err, "close resolver cache")
	}
	return nil
}
