// Package store persists the clinical Document. Decode/Encode form the codec
// boundary; Repository runs every operation as load entire document → mutate
// → save entire document over a pluggable Backend (local file with atomic
// rename, process memory, or a PostgreSQL row). Unreadable content is
// replaced by the empty document on read; write failures are returned.
package store
