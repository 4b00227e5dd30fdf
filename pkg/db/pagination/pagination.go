package pagination

const (
	DefaultLimit = 50
	MaxLimit     = 250
)

// Pagination is offset based. Limit is clamped to MaxLimit so no caller can
// request an unbounded scan.
type Pagination struct {
	Offset int `form:"offset" json:"offset"`
	Limit  int `form:"limit" json:"limit"`
}

type PageInfo struct {
	Offset  int   `json:"offset"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

func (p Pagination) Normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func BuildPageInfo(p Pagination, returned int, total int64) *PageInfo {
	p = p.Normalize()
	return &PageInfo{
		Offset:  p.Offset,
		Limit:   p.Limit,
		Total:   total,
		HasMore: int64(p.Offset+returned) < total,
	}
}
