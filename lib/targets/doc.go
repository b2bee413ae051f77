// Package targets holds the table of RMAP target nodes an initiator talks to.
//
// A Registry is built once from a list of nodes and is read-only afterwards,
// so lookups need no locking. Nodes are kept sorted by name and found with a
// binary search.
package targets
