// Package models contains GORM persistence models for the reconciler's
// tables. Domain types carry no ORM tags; each model converts to and from
// its domain type with ToDomain / XxxModelFromDomain.
//
// Tables:
//   - raw_events: the append-only event log with processing state
//   - orders, order_transitions: the reconciled aggregate and its history
//   - allocation_records: per order line stock allocation state
//   - stock_movements, stock_balances: the ledger and its materialized view
package models
