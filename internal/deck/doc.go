// Package deck defines the domain model shared by every deckstore component:
// deck types, storm scopes, records, sandbox records, change codes, sandboxes,
// merge logs, conflict sets and notifications.
//
// # Deck types
//
// A record's deck type is resolved once, when the record is parsed, and is
// carried on the record from then on. Nothing downstream inspects Go types to
// decide which table a record belongs to. B and E deck records whose cyclone
// number falls in the genesis range (70-79) resolve to the genesis tables.
//
// # Natural keys
//
// Deck types with a natural key (A, B, genesis B, forecast track) get a UNIQUE
// index over those columns in the record store, and the ingest engine uses the
// key for existence checks. E, F and genesis E decks have no natural key, so
// duplicates cannot be detected for them and records always insert.
//
// # Fingerprints
//
// Fingerprint hashes a record set through canonical JSON (sorted keys, NFC
// strings, shortest decimal floats) with SHA-256 and domain separation, so two
// baseline snapshots can be compared without shipping rows around.
package deck
