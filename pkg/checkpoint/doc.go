// Package checkpoint holds the resumable state of a follow-chain walk and persists it.
//
// A CrawlState is checkpointed after every step. Resuming loads the last checkpoint and
// continues from its frontiers; the state on disk is never more than one step behind the
// walk.
//
// Two stores are provided. FileStore writes atomically under the user's data directory
// (XDG_DATA_HOME on Linux) and keeps the previous checkpoint as a .backup file. RedisStore
// keeps the state under one key for walks that move between machines.
package checkpoint
