package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50" binding:"gte=0,lte=250"`
}

// Cursor points past the last row of the previous page. Lists are ordered by
// descending snowflake id, so the id alone is a stable keyset.
type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// Limit returns the clamped page size.
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

// AfterID decodes the page token into the exclusive upper bound id, or 0 when
// the request starts from the first page.
func (p Pagination) AfterID() (int64, error) {
	if p.PageToken == "" {
		return 0, nil
	}
	cursor, err := DecodeCursor(p.PageToken)
	if err != nil {
		return 0, ErrInvalidPageToken
	}
	id, err := strconv.ParseInt(cursor.ID, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPageToken
	}
	return id, nil
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo trims data to limit and returns the trimmed slice with
// its page info. Callers fetch limit+1 rows to detect a further page.
func BuildCursorPageInfo[T any](data []T, limit int, extractID func(T) string) ([]T, PageInfo) {
	if len(data) <= limit {
		return data, PageInfo{HasMore: false}
	}

	data = data[:limit]
	token, err := EncodeCursor(Cursor{ID: extractID(data[len(data)-1])})
	if err != nil {
		return data, PageInfo{HasMore: false}
	}
	return data, PageInfo{HasMore: true, NextPageToken: token}
}
