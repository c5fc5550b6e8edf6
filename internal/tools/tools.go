package tools

import (
	"context"

	"github.com/timetrail/timetrail/internal/temporal"
)

// RegisterAll binds every engine operation 1:1 as a named tool.
// defaultLimit bounds read results when the caller supplies none.
func RegisterAll(r *Registry, mgr *temporal.Manager, q *temporal.Query, historySuffix string, defaultLimit int) {
	if historySuffix == "" {
		historySuffix = temporal.DefaultHistorySuffix
	}
	if defaultLimit <= 0 {
		defaultLimit = temporal.DefaultLimit
	}

	r.Register(&Tool{
		Name: "enable_tracking",
		Description: "Enable change tracking for a table. Creates a history table and a trigger " +
			"that records every INSERT, UPDATE and DELETE.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			suffix, err := optStringArg(args, "history_table_suffix", historySuffix)
			if err != nil {
				return nil, err
			}
			identity, err := optStringArg(args, "identity_column", "")
			if err != nil {
				return nil, err
			}
			return mgr.Enable(ctx, schema, table, suffix, identity)
		},
	})

	r.Register(&Tool{
		Name: "disable_tracking",
		Description: "Disable change tracking for a table. Optionally drops the history table, " +
			"which irreversibly deletes all recorded changes.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			dropHistory, err := boolArg(args, "drop_history", false)
			if err != nil {
				return nil, err
			}
			return mgr.Disable(ctx, schema, table, dropHistory)
		},
	})

	r.Register(&Tool{
		Name:        "list_tracked_tables",
		Description: "List all tables with change tracking, both enabled and disabled.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return mgr.List(ctx)
		},
	})

	r.Register(&Tool{
		Name:        "get_tracking_status",
		Description: "Get tracking status and change statistics for a table.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			return mgr.Status(ctx, schema, table)
		},
	})

	r.Register(&Tool{
		Name:        "query_at_timestamp",
		Description: "Reconstruct a table's rows as they existed at a specific timestamp.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			timestamp, err := stringArg(args, "timestamp")
			if err != nil {
				return nil, err
			}
			limit, err := intArg(args, "limit", defaultLimit)
			if err != nil {
				return nil, err
			}
			return q.At(ctx, schema, table, timestamp, limit)
		},
	})

	r.Register(&Tool{
		Name: "get_change_history",
		Description: "Read a table's raw change log, optionally bounded by a time range and " +
			"filtered by operation (INSERT, UPDATE, DELETE).",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			start, err := optStringArg(args, "start_time", "")
			if err != nil {
				return nil, err
			}
			end, err := optStringArg(args, "end_time", "")
			if err != nil {
				return nil, err
			}
			operation, err := optStringArg(args, "operation", "")
			if err != nil {
				return nil, err
			}
			limit, err := intArg(args, "limit", defaultLimit)
			if err != nil {
				return nil, err
			}
			return q.Changes(ctx, schema, table, start, end, operation, limit)
		},
	})

	r.Register(&Tool{
		Name: "revert_to_timestamp",
		Description: "Revert a table to its state at a timestamp. Defaults to a dry run; " +
			"set dry_run=false to execute the destructive replacement.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			timestamp, err := stringArg(args, "timestamp")
			if err != nil {
				return nil, err
			}
			dryRun, err := boolArg(args, "dry_run", true)
			if err != nil {
				return nil, err
			}
			return q.Revert(ctx, schema, table, timestamp, dryRun)
		},
	})

	r.Register(&Tool{
		Name:        "compare_timestamps",
		Description: "Compare a table's state between two timestamps: added, removed and modified rows.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			t1, err := stringArg(args, "timestamp1")
			if err != nil {
				return nil, err
			}
			t2, err := stringArg(args, "timestamp2")
			if err != nil {
				return nil, err
			}
			limit, err := intArg(args, "limit", defaultLimit)
			if err != nil {
				return nil, err
			}
			return q.Compare(ctx, schema, table, t1, t2, limit)
		},
	})

	r.Register(&Tool{
		Name:        "get_row_history",
		Description: "Get the complete change history for one row identified by a key column and value.",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			schema, err := stringArg(args, "schema_name")
			if err != nil {
				return nil, err
			}
			table, err := stringArg(args, "table_name")
			if err != nil {
				return nil, err
			}
			keyColumn, err := stringArg(args, "key_column")
			if err != nil {
				return nil, err
			}
			keyValue, err := anyArg(args, "key_value")
			if err != nil {
				return nil, err
			}
			limit, err := intArg(args, "limit", defaultLimit)
			if err != nil {
				return nil, err
			}
			return q.RowHistory(ctx, schema, table, keyColumn, keyValue, limit)
		},
	})
}
