// Package model turns a declarative schema into live entities.
//
// A Database imports a Schema of namespaces, models and relationships. An
// EntityFactory builds an Entity per model: one Property per field, one
// Attachment per attachment definition, and the Reference, ReferenceList
// and query methods derived from every Relationship the model takes part
// in. Entities import from and export to the store's document shape and are
// persisted through a Service bound to a types.Store.
package model
