// Package store selects and opens a run store backend. Concrete
// implementations live in the memory, sqlite, and postgres subpackages;
// this package holds only the provider switch so callers stay independent
// of driver imports.
package store
