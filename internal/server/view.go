package server

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"tracklight/internal/models"
)

// Sort keys accepted by the dashboard list.
const (
	SortAdded     = "added"
	SortIndicator = "indicator"
	SortTitle     = "title"
	SortDate      = "date"
	SortStatus    = "status"
)

// SortKeys lists the sort keys in display order.
var SortKeys = []string{SortAdded, SortIndicator, SortTitle, SortDate, SortStatus}

// DefaultStatuses is the status filter applied when the request names none.
var DefaultStatuses = []models.Status{models.StatusNotStarted, models.StatusInProcess, models.StatusQualified}

var articleDateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
	"2006/01/02",
	"January 2006",
	"2006",
	time.RFC3339,
}

// ListQuery is the filter and ordering of the dashboard list.
type ListQuery struct {
	Statuses  []models.Status
	Sort      string
	Ascending bool
}

// ParseListQuery reads status, sort and order parameters. "status=all" disables the
// status filter; no status parameter applies DefaultStatuses.
func ParseListQuery(v url.Values) ListQuery {
	q := ListQuery{Sort: SortAdded, Statuses: DefaultStatuses}

	if s := v.Get("sort"); s != "" {
		for _, k := range SortKeys {
			if s == k {
				q.Sort = s
			}
		}
	}

	q.Ascending = v.Get("order") == "asc"

	if raw, ok := v["status"]; ok {
		q.Statuses = nil

		for _, s := range raw {
			if s == "all" {
				q.Statuses = nil

				break
			}

			if st := models.Status(s); st.Valid() {
				q.Statuses = append(q.Statuses, st)
			}
		}
	}

	return q
}

// Values encodes q back into query parameters.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	v.Set("sort", q.Sort)

	if q.Ascending {
		v.Set("order", "asc")
	} else {
		v.Set("order", "desc")
	}

	if len(q.Statuses) == 0 {
		v.Set("status", "all")
	}

	for _, s := range q.Statuses {
		v.Add("status", string(s))
	}

	return v
}

// Has reports whether status s passes the filter.
func (q ListQuery) Has(s models.Status) bool {
	for _, st := range q.Statuses {
		if st == s {
			return true
		}
	}

	return false
}

// Apply filters and orders records. Records without a status count as Not Started.
// Keys that cannot be compared, such as unparsable dates, sort last in either order.
func (q ListQuery) Apply(records []models.ArticleRecord) []models.ArticleRecord {
	out := make([]models.ArticleRecord, 0, len(records))

	for _, r := range records {
		if len(q.Statuses) == 0 || q.Has(effectiveStatus(r)) {
			out = append(out, r)
		}
	}

	less := q.less()

	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j])
	})

	return out
}

func (q ListQuery) less() func(a, b models.ArticleRecord) bool {
	dir := func(cmp int) bool {
		if q.Ascending {
			return cmp < 0
		}

		return cmp > 0
	}

	switch q.Sort {
	case SortIndicator:
		return func(a, b models.ArticleRecord) bool {
			return dir(severityRank(a) - severityRank(b))
		}
	case SortTitle:
		return func(a, b models.ArticleRecord) bool {
			return dir(strings.Compare(strings.ToLower(a.Title()), strings.ToLower(b.Title())))
		}
	case SortStatus:
		return func(a, b models.ArticleRecord) bool {
			return dir(statusRank(effectiveStatus(a)) - statusRank(effectiveStatus(b)))
		}
	case SortDate:
		return func(a, b models.ArticleRecord) bool {
			ta, oka := articleDate(a)
			tb, okb := articleDate(b)

			if oka != okb {
				return oka
			}

			return dir(ta.Compare(tb))
		}
	default:
		return func(a, b models.ArticleRecord) bool {
			return dir(a.CreatedAt.Compare(b.CreatedAt))
		}
	}
}

// Neighbours returns the identities before and after id in records, or "" at the ends.
func Neighbours(records []models.ArticleRecord, id string) (string, string) {
	for i, r := range records {
		if r.Identity != id {
			continue
		}

		var prev, next string
		if i > 0 {
			prev = records[i-1].Identity
		}

		if i < len(records)-1 {
			next = records[i+1].Identity
		}

		return prev, next
	}

	return "", ""
}

func effectiveStatus(r models.ArticleRecord) models.Status {
	if r.Status == "" {
		return models.StatusNotStarted
	}

	return r.Status
}

func statusRank(s models.Status) int {
	for i, st := range models.AllStatuses {
		if st == s {
			return i
		}
	}

	return len(models.AllStatuses)
}

func severityRank(r models.ArticleRecord) int {
	if r.Analysis == nil {
		return 0
	}

	return r.Analysis.HighestSeverity().Rank()
}

func articleDate(r models.ArticleRecord) (time.Time, bool) {
	if r.Analysis == nil {
		return time.Time{}, false
	}

	s := strings.TrimSpace(r.Analysis.Date)

	for _, layout := range articleDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
