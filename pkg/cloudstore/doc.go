// Package cloudstore provides per-principal content storage with quota
// accounting and a consent-based sharing workflow.
//
// A Service combines three components that share one Repository and one
// BlobStore:
//
//   - QuotaLedger answers how many bytes a principal consumes and whether an
//     additional payload would exceed the configured ceiling. It never stores
//     a running counter; consumption is recomputed from the catalog.
//   - StorageManager owns storage areas, ingestion, listing, usage summaries,
//     downloads and removal of content objects.
//   - SharingEngine creates share requests and resolves them. Accepting a
//     request copies the source bytes into the recipient's area as a new,
//     independent object.
//
// Repository implementations (memory, Postgres) and blob stores (memory,
// filesystem, S3) live in subpackages.
//
// Concurrency
//
// Ingest and accept serialise per principal around the quota check, the byte
// write and the catalog insert. Remove, share and accept serialise per source
// object. Operations on different principals and objects never wait on each
// other.
package cloudstore
