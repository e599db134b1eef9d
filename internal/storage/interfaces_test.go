package storage

import (
	"receptionist/internal/assistant"
	"receptionist/internal/audit"
	"receptionist/internal/dialogue"
	"receptionist/internal/orders"
	"receptionist/internal/reporting"
)

var (
	_ dialogue.Store          = (*MemoryStore)(nil)
	_ assistant.HistoryLoader = (*MemoryStore)(nil)
	_ orders.Repository       = (*MemoryStore)(nil)
	_ orders.SessionLookup    = (*MemoryStore)(nil)
	_ reporting.Repository    = (*MemoryStore)(nil)
	_ audit.Repository        = (*MemoryStore)(nil)

	_ dialogue.Store          = (*PostgresStore)(nil)
	_ assistant.HistoryLoader = (*PostgresStore)(nil)
	_ orders.Repository       = (*PostgresStore)(nil)
	_ orders.SessionLookup    = (*PostgresStore)(nil)
	_ reporting.Repository    = (*PostgresStore)(nil)
	_ audit.Repository        = (*PostgresStore)(nil)
)
