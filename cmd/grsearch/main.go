// Command grsearch searches Goodreads for every book of a task list using a
// pool of resumable worker processes.
package main

import (
	"os"

	"github.com/JakeFAU/goodreads-search-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
