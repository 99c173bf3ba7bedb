// Package storage persists accounts, post collections, cohorts and report artifacts.
//
// Three backends implement Store:
//   - FileStore writes one JSON file per record with atomic temp-file renames and keeps an
//     in-memory index of which accounts have been stored or collected
//   - BadgerStore keeps the same records in an embedded Badger database
//   - PostgresStore keeps them in PostgreSQL, processed posts as queryable rows
//
// Records are decoded strictly: unknown fields, trailing data and records that fail
// validation are reported as serialization errors instead of being loaded half-way.
//
// Usage:
//
//	store, err := storage.Open(ctx, cfg.Storage, log)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if ok, _ := store.HasPosts(ctx, "alice"); !ok {
//	    // collect the timeline
//	}
package storage
