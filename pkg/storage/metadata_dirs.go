package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/types"
)

// ListOptions bounds and orders a files/dirs listing.
type ListOptions struct {
	Offset  int
	Limit   int
	OrderBy types.OrderKey
	Desc    bool
}

// orderColumns maps the closed OrderKey set to SQL column names.
var orderColumns = map[types.OrderKey]string{
	types.OrderURL:        "url",
	types.OrderFileSize:   "size",
	types.OrderCreateTime: "create_time",
	types.OrderAccessTime: "access_time",
	types.OrderMimeType:   "mime_type",
}

func (o ListOptions) orderClause() string {
	col, ok := orderColumns[o.OrderBy]
	if !ok {
		col = "url"
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	return "ORDER BY " + col + " " + dir
}

// CountFiles returns how many files live directly or recursively under
// dirURL (dirURL must end with /).
func CountFiles(ctx context.Context, q querier, dirURL string, recursive bool) (int, error) {
	pattern := escapeLike(dirURL) + "%"
	query := `SELECT COUNT(*) FROM files WHERE url LIKE ? ESCAPE '\'`
	if !recursive {
		query += ` AND url NOT LIKE ? ESCAPE '\'`
		subPattern := escapeLike(dirURL) + "%/%"
		row := q.QueryRowContext(ctx, query, pattern, subPattern)
		var n int
		return n, row.Scan(&n)
	}
	row := q.QueryRowContext(ctx, query, pattern)
	var n int
	return n, row.Scan(&n)
}

// ListFiles lists file rows directly or recursively under dirURL.
func ListFiles(ctx context.Context, q querier, dirURL string, recursive bool, opts ListOptions) ([]types.FileRecord, error) {
	pattern := escapeLike(dirURL) + "%"
	query := `SELECT url, owner_id, file_id, size, create_time, access_time, permission, external, mime_type FROM files WHERE url LIKE ? ESCAPE '\'`
	args := []any{pattern}
	if !recursive {
		query += ` AND url NOT LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(dirURL)+"%/%")
	}
	query += " " + opts.orderClause()
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.FileRecord
	for rows.Next() {
		var r types.FileRecord
		var external int
		if err := rows.Scan(&r.URL, &r.OwnerID, &r.FileID, &r.Size, &r.CreateTime, &r.AccessTime, &r.Permission, &external, &r.MimeType); err != nil {
			return nil, err
		}
		r.External = external != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountDirs returns the number of distinct immediate child directories
// under dirURL.
func CountDirs(ctx context.Context, q querier, dirURL string) (int, error) {
	children, err := listChildDirs(ctx, q, dirURL, false)
	if err != nil {
		return 0, err
	}
	return len(children), nil
}

// ListDirs lists the immediate child directory names under dirURL, ordered
// by dirname (directories have no other sortable column), subject to
// opts.Desc and opts.Offset/Limit applied after aggregation.
func ListDirs(ctx context.Context, q querier, dirURL string, opts ListOptions) ([]types.DirectoryRecord, error) {
	children, err := listChildDirs(ctx, q, dirURL, opts.Desc)
	if err != nil {
		return nil, err
	}
	start := opts.Offset
	if start > len(children) {
		start = len(children)
	}
	end := len(children)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	out := make([]types.DirectoryRecord, 0, end-start)
	for _, childURL := range children[start:end] {
		rec, err := GetDirRecord(ctx, q, childURL)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// listChildDirs enumerates the distinct immediate child directory URLs
// under dirURL by scanning file URLs and folding the next path segment,
// sorted by dirname ascending (or descending if desc is set).
func listChildDirs(ctx context.Context, q querier, dirURL string, desc bool) ([]string, error) {
	pattern := escapeLike(dirURL) + "%/%"
	rows, err := q.QueryContext(ctx, `SELECT url FROM files WHERE url LIKE ? ESCAPE '\'`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var children []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		rest := strings.TrimPrefix(url, dirURL)
		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			continue
		}
		childURL := dirURL + rest[:idx+1]
		if !seen[childURL] {
			seen[childURL] = true
			children = append(children, childURL)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if desc {
		sort.Sort(sort.Reverse(sort.StringSlice(children)))
	} else {
		sort.Strings(children)
	}
	return children, nil
}

// GetDirRecord aggregates size, file count and timestamp range for every
// file recursively under dirURL. Returns a KindPathNotFound error if the directory
// has no files at all (directories have no independent existence).
func GetDirRecord(ctx context.Context, q querier, dirURL string) (*types.DirectoryRecord, error) {
	pattern := escapeLike(dirURL) + "%"
	row := q.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0), MIN(create_time), MAX(create_time), MAX(access_time)
		FROM files WHERE url LIKE ? ESCAPE '\'`, pattern)

	var rec types.DirectoryRecord
	rec.URL = dirURL
	var minCreate, maxCreate, maxAccess sql.NullTime
	if err := row.Scan(&rec.NFiles, &rec.Size, &minCreate, &maxCreate, &maxAccess); err != nil {
		return nil, err
	}
	if rec.NFiles == 0 {
		return nil, lfsserr.New(lfsserr.KindPathNotFound, "directory not found")
	}
	rec.MinCreate = minCreate.Time
	rec.MaxCreate = maxCreate.Time
	rec.MaxAccess = maxAccess.Time
	return &rec, nil
}
