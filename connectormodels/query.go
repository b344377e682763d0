/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package connectormodels

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/suparena/plmconnector/errors"
)

const (
	// DefaultPageSize is used when a query does not set one.
	DefaultPageSize = 50
	// MaxPageSize caps the page size a host may ask for.
	MaxPageSize = 500
)

// SortOrder is the direction of a sort field.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// QuerySort is one entry of an ordered sort specification.
type QuerySort struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// SearchQuery narrows a listing.
type SearchQuery struct {
	ID string `json:"id,omitempty"`

	// LatestRevision keeps only the newest revision of each object.
	LatestRevision bool `json:"latest_revision,omitempty"`

	Name     string `json:"name,omitempty"`
	Revision string `json:"revision,omitempty"`
}

// Query is a paginated catalog query.
type Query struct {
	// Page number, starting at 1
	Page     int          `json:"page"`
	PageSize int          `json:"page_size,omitempty"`
	Sort     []QuerySort  `json:"sort"`
	IDs      []string     `json:"ids,omitempty"`
	Search   *SearchQuery `json:"query,omitempty"`
	Type     *ObjectType  `json:"type,omitempty"`
}

// Normalize fills in defaults and returns the normalized copy.
func (q Query) Normalize() Query {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	for i := range q.Sort {
		if q.Sort[i].Order == "" {
			q.Sort[i].Order = SortAsc
		}
		q.Sort[i].Order = SortOrder(strings.ToUpper(string(q.Sort[i].Order)))
	}
	return q
}

// Validate rejects queries a datasource cannot answer.
func (q Query) Validate() error {
	if q.Page < 1 {
		return errors.NewValidationError("page", "page numbers start at 1")
	}
	for _, s := range q.Sort {
		if s.Field == "" {
			return errors.NewValidationError("sort", "sort field is required")
		}
		if s.Order != SortAsc && s.Order != SortDesc {
			return errors.NewValidationError("sort", fmt.Sprintf("unknown sort order %q", s.Order))
		}
	}
	if q.Type != nil && !q.Type.Valid() {
		return errors.NewValidationError("type", "unknown object type "+string(*q.Type))
	}
	return nil
}

// Offset is the index of the first item of the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// PageCount returns how many pages of pageSize are needed for total items.
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Paginate returns the slice of items for a 1-based page.
func Paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 || pageSize <= 0 {
		return nil
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// SortDefinitions orders defs by the sort specification. Known fields are id, name,
// revision, size and updated; ties fall back to id then revision so paging is stable.
func SortDefinitions(defs []ObjectDefinition, spec []QuerySort) {
	sort.SliceStable(defs, func(i, j int) bool {
		for _, s := range spec {
			c := compareField(defs[i], defs[j], s.Field)
			if c == 0 {
				continue
			}
			if s.Order == SortDesc {
				return c > 0
			}
			return c < 0
		}
		if defs[i].ID != defs[j].ID {
			return defs[i].ID < defs[j].ID
		}
		return defs[i].Revision < defs[j].Revision
	})
}

func compareField(a, b ObjectDefinition, field string) int {
	switch strings.ToLower(field) {
	case "id":
		return strings.Compare(a.ID, b.ID)
	case "name":
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "revision":
		return strings.Compare(a.Revision, b.Revision)
	case "size":
		return compareInt(deref(a.Size), deref(b.Size))
	case "updated":
		return compareTime(a, b)
	}
	return 0
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b ObjectDefinition) int {
	var ta, tb time.Time
	if a.Updated != nil {
		ta = time.Time(*a.Updated)
	}
	if b.Updated != nil {
		tb = time.Time(*b.Updated)
	}
	return ta.Compare(tb)
}
