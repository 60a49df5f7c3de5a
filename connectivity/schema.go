package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Schema defines the routes table that drives the service router.
// Each row maps a capability name (faculty_discover, scholar_enrich,
// cv_parse) to a dispatch strategy.
//
// Strategies:
//   - "local": dispatch to an in-memory Handler registered via RegisterLocal.
//   - "mcp":   spawn/attach to a stdio MCP server and call one of its tools.
//   - "http":  POST the payload to a remote HTTP endpoint.
//   - "noop":  silently succeed without doing anything (capability disabled).
//
// The config column holds per-route JSON (tool_name, timeouts, etc.).
// Any UPDATE to this table bumps PRAGMA data_version, which the Watch loop
// detects to trigger a hot-reload.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'mcp', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_routes_strategy ON routes(strategy);
`

// Init creates the routes table if it doesn't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// RouteSpec is one route entry in a YAML routes file.
type RouteSpec struct {
	Service  string         `yaml:"service"`
	Strategy string         `yaml:"strategy"`
	Endpoint string         `yaml:"endpoint"`
	Config   map[string]any `yaml:"config"`
}

// routesFile is the top-level YAML document.
type routesFile struct {
	Routes []RouteSpec `yaml:"routes"`
}

// SeedFromFile reads a YAML routes file and upserts its entries into the
// routes table. Existing rows for the same service are replaced, so the file
// is the source of truth at startup; runtime SQL edits still win until the
// next seed.
//
// Example file:
//
//	routes:
//	  - service: scholar_enrich
//	    strategy: mcp
//	    endpoint: "uv run python mcp-servers/scholar-server/server.py"
//	    config:
//	      tool_name: search_scholar
func SeedFromFile(ctx context.Context, db *sql.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("connectivity: read routes file: %w", err)
	}

	var rf routesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("connectivity: parse routes file: %w", err)
	}

	for _, rs := range rf.Routes {
		if rs.Service == "" || rs.Strategy == "" {
			return fmt.Errorf("connectivity: route missing service or strategy: %+v", rs)
		}
		cfgJSON := "{}"
		if len(rs.Config) > 0 {
			b, err := json.Marshal(rs.Config)
			if err != nil {
				return fmt.Errorf("connectivity: marshal config for %s: %w", rs.Service, err)
			}
			cfgJSON = string(b)
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO routes (service_name, strategy, endpoint, config, updated_at)
			VALUES (?, ?, ?, ?, strftime('%s', 'now'))
			ON CONFLICT(service_name) DO UPDATE SET
				strategy = excluded.strategy,
				endpoint = excluded.endpoint,
				config = excluded.config,
				updated_at = excluded.updated_at`,
			rs.Service, rs.Strategy, rs.Endpoint, cfgJSON)
		if err != nil {
			return fmt.Errorf("connectivity: seed route %s: %w", rs.Service, err)
		}
	}
	return nil
}
