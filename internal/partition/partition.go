// Package partition splits the task list into per-worker partitions.
package partition

import "github.com/JakeFAU/goodreads-search-crawler/internal/crawler"

// Workers returns the number of partitions Split produces for the request:
// the requested count clamped to [1, tasks]. Zero tasks yields zero workers.
func Workers(requested, tasks int) int {
	if tasks <= 0 {
		return 0
	}
	if requested <= 0 {
		requested = 1
	}
	if requested > tasks {
		return tasks
	}
	return requested
}

// Split assigns the task at position i to partition i mod W, preserving the
// relative order inside every partition. Every task lands in exactly one
// partition and no partition is empty.
func Split(tasks []crawler.Task, requested int) [][]crawler.Task {
	w := Workers(requested, len(tasks))
	if w == 0 {
		return nil
	}
	parts := make([][]crawler.Task, w)
	for i := range parts {
		parts[i] = make([]crawler.Task, 0, len(tasks)/w+1)
	}
	for i, task := range tasks {
		parts[i%w] = append(parts[i%w], task)
	}
	return parts
}
