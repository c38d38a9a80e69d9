// Package store opens the SQLite database shared by the response cache, the
// movie catalog, and the image cache index.
//
// Open configures the connection for concurrent readers and a single writer
// (WAL journal, busy timeout, foreign keys), applies the embedded migrations,
// and hands back a DB whose write helpers retry transient SQLITE_BUSY errors
// with a short doubling backoff. Read paths call the *sql.DB directly and do
// not retry.
package store
