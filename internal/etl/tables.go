package etl

import "github.com/n0roo/session-etl/internal/warehouse"

// UserSessionChannel maps sessions to users and acquisition channels
var UserSessionChannel = warehouse.Table{
	Name: "user_session_channel",
	Columns: []warehouse.Column{
		{Name: "userId", Type: "INT", NotNull: true},
		{Name: "sessionId", Type: "VARCHAR(32)", PrimaryKey: true},
		{Name: "channel", Type: "VARCHAR(32)", Default: "'direct'"},
	},
}

// SessionTimestamp holds the start time of each session
var SessionTimestamp = warehouse.Table{
	Name: "session_timestamp",
	Columns: []warehouse.Column{
		{Name: "sessionId", Type: "VARCHAR(32)", PrimaryKey: true},
		{Name: "ts", Type: "TIMESTAMP"},
	},
}

// SessionSummary is the join of both raw tables, one row per session
var SessionSummary = warehouse.Table{
	Name: "session_summary",
	Columns: []warehouse.Column{
		{Name: "userId", Type: "INT", NotNull: true},
		{Name: "sessionId", Type: "VARCHAR(32)", PrimaryKey: true},
		{Name: "channel", Type: "VARCHAR(32)"},
		{Name: "ts", Type: "TIMESTAMP"},
	},
}

// rawTables in load order
var rawTables = []warehouse.Table{UserSessionChannel, SessionTimestamp}
