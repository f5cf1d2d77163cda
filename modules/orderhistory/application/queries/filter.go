package queries

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

// orderFilter holds the parsed predicates of a history query.
// All set predicates must match.
type orderFilter struct {
	status   domain.Status
	keywords []string // case folded, non-blank
}

func newOrderFilter(status domain.Status, keywords []string) orderFilter {
	f := orderFilter{status: status}
	fold := cases.Fold()
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		f.keywords = append(f.keywords, fold.String(kw))
	}
	return f
}

func (f orderFilter) matches(order *domain.Order) bool {
	if f.status != "" && order.Status() != f.status {
		return false
	}
	if len(f.keywords) == 0 {
		return true
	}
	// cases.Caser is stateful, so each call gets its own.
	fold := cases.Fold()
	for _, item := range order.LineItems() {
		name := fold.String(item.Name)
		for _, kw := range f.keywords {
			if strings.Contains(name, kw) {
				return true
			}
		}
	}
	return false
}
