// Package storage persists the delivery log: one row per dispatch
// outcome, including Development-mode "recorded" sends. The admin
// dashboard reads recent history through the Store interface; the
// pipeline only appends.
package storage
