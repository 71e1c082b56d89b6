package tasks

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

// parquetColumns maps top-level field names to the leaf columns below them.
// A string field has one leaf; a LIST of strings has one leaf at
// <field>.list.element; a list of structs has one leaf per struct field.
type parquetColumns map[string][]int

func leafColumns(schema *parquet.Schema) parquetColumns {
	cols := parquetColumns{}
	for i, path := range schema.Columns() {
		if len(path) == 0 {
			continue
		}
		cols[path[0]] = append(cols[path[0]], i)
	}
	return cols
}

// single returns the only leaf column of a field. Fields with several leaves
// (lists of structs such as an authors list of ids and roles) are not text.
func (c parquetColumns) single(field string) (int, bool) {
	leaves := c[field]
	if len(leaves) != 1 {
		return 0, false
	}
	return leaves[0], true
}

// firstValue returns the first non-null value of column in row: the value of
// a plain column or the first element of a list column.
func firstValue(row parquet.Row, column int) string {
	for _, v := range row {
		if v.Column() == column && !v.IsNull() {
			return v.String()
		}
	}
	return ""
}

func loadParquet(path string) ([]crawler.Task, error) {
	f, err := os.Open(path) //nolint:gosec // user supplied input path
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInput, path, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrInput, path, err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet %s: %v", ErrInput, path, err)
	}

	cols := leafColumns(pf.Schema())
	titleCol, ok := cols.single("title")
	if !ok {
		return nil, fmt.Errorf("%w: %s has no title column", ErrInput, path)
	}
	authorCol := -1
	if name := pickAuthorColumn(func(c string) bool { _, ok := cols.single(c); return ok }); name != "" {
		authorCol, _ = cols.single(name)
	}

	reader := parquet.NewReader(pf)
	defer func() { _ = reader.Close() }()

	var (
		out []crawler.Task
		pos int
	)
	buf := make([]parquet.Row, 256)
	for {
		n, err := reader.ReadRows(buf)
		for _, row := range buf[:n] {
			author := ""
			if authorCol >= 0 {
				author = firstValue(row, authorCol)
			}
			if task, ok := newTask(pos, firstValue(row, titleCol), author); ok {
				out = append(out, task)
			}
			pos++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read parquet rows: %v", ErrInput, err)
		}
	}
	return out, nil
}
