// Package identity owns lotgate's persistent view of registered subjects
// and their email-verification tokens.
//
// It defines the Store boundary consumed by the abuse guard and the
// verification ledger, a PostgreSQL implementation, an in-memory fallback
// for development, and the embedded schema migrations.
//
// The store is the only shared mutable resource in the service: rate limits
// are derived by counting subjects, never kept in a side table.
package identity
