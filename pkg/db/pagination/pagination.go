// Package pagination implements opaque cursor paging over (created_at, id)
// ordered listings.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Limit clamps the requested page size to [1, 100].
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return defaultPageSize
	}
	if p.PageSize > maxPageSize {
		return maxPageSize
	}
	return p.PageSize
}

// Cursor marks the last row of the previous page.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (Cursor, error) {
	var cursor Cursor
	if token == "" {
		return cursor, nil
	}
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return cursor, ErrInvalidPageToken
	}
	if err := json.Unmarshal(b, &cursor); err != nil {
		return cursor, ErrInvalidPageToken
	}
	return cursor, nil
}
