// Package types defines the persistence boundary consumed by the entity
// layer: the Store interface, the Document shape, queries, index
// definitions, store configuration, and the sentinel errors stores return.
package types
