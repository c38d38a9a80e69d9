// Package imagecache stores poster and backdrop images on local disk under a
// byte budget.
//
// Images are addressed by (size, path), downloaded lazily on first request,
// and written through a temp file plus rename so readers never see a partial
// file. The SQLite index tracks bytes and last access per entry; Prune evicts
// strictly by least-recent access until the cache fits the budget.
package imagecache
