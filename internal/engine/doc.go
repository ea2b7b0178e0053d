// Package engine defines the storage-engine boundary the analyzers consume.
//
// Key types:
//   - Loc: Opaque location of a record, extent or tree node
//   - NodeFormat: Tree node format version, resolved once per tree into a NodeLayout
//   - Tree, Node: Read-only index tree accessor
//   - Region: Read-only extent accessor (live records and free lists)
//   - PageQuerier: OS page residency query
//
// The reference implementation lives in internal/datafile. Analyzer tests
// also use small in-memory fakes of these interfaces.
package engine
