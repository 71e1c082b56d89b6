// Package crawler defines the core types shared by the orchestrator, the
// worker processes, and the Goodreads executor: tasks, result rows, fetch
// requests, and the small interfaces (Fetcher, BlobStore, Publisher) the
// outer layers are wired through.
package crawler
