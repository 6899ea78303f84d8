// Package catalog maintains a filtered, cursor-paginated view over the
// product collection. Every fetch is stamped with the generation of the
// filter that issued it; a response arriving after the filter changed is
// discarded instead of appended.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

const defaultPageSize = 20

type Filter struct {
	Query    string
	Category string
}

type Paginator struct {
	gw       gateway.Doer
	log      *zap.Logger
	pageSize int

	mu      sync.Mutex
	gen     uint64
	filter  Filter
	items   []domain.Product
	seen    map[int64]struct{}
	cursor  string
	hasMore bool
	loading bool
}

func New(gw gateway.Doer, pageSize int, log *zap.Logger) *Paginator {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Paginator{
		gw:       gw,
		log:      log,
		pageSize: pageSize,
		seen:     map[int64]struct{}{},
	}
}

// SetFilter replaces the current view wholesale: the accumulated list is
// cleared, any in-flight load for the previous filter is superseded, and a
// fresh first page is fetched. On failure the list stays empty.
func (p *Paginator) SetFilter(ctx context.Context, f Filter) error {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.filter = f
	p.items = nil
	p.seen = map[int64]struct{}{}
	p.cursor = ""
	p.hasMore = false
	p.loading = true
	p.mu.Unlock()

	page, err := p.fetch(ctx, f, "")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return nil // superseded by a newer filter; discard
	}
	p.loading = false
	if err != nil {
		return fmt.Errorf("fetch first page: %w", err)
	}
	p.apply(page)
	return nil
}

// LoadMore appends the next page. It is a no-op when there is nothing more
// to load or a load is already in flight. On failure the accumulated list
// is left intact so the caller can retry.
func (p *Paginator) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	if !p.hasMore || p.loading {
		p.mu.Unlock()
		return nil
	}
	gen := p.gen
	filter := p.filter
	cursor := p.cursor
	p.loading = true
	p.mu.Unlock()

	page, err := p.fetch(ctx, filter, cursor)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return nil // filter changed while we were in flight
	}
	p.loading = false
	if err != nil {
		return fmt.Errorf("load more: %w", err)
	}
	p.apply(page)
	return nil
}

// Items returns a copy of the accumulated list, in server relevance order.
func (p *Paginator) Items() []domain.Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Product, len(p.items))
	copy(out, p.items)
	return out
}

func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *Paginator) Filter() Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

func (p *Paginator) fetch(ctx context.Context, f Filter, cursor string) (*domain.ProductPage, error) {
	query := url.Values{}
	if f.Query != "" {
		query.Set("q", f.Query)
	}
	if f.Category != "" {
		query.Set("category", f.Category)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	query.Set("limit", strconv.Itoa(p.pageSize))

	var page domain.ProductPage
	if err := p.gw.Do(ctx, http.MethodGet, "/api/products", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// apply appends a page in the order received, dropping IDs already in the
// list. The accumulated list is never re-sorted client-side.
func (p *Paginator) apply(page *domain.ProductPage) {
	for _, product := range page.Products {
		if _, dup := p.seen[product.ID]; dup {
			p.log.Debug("dropping duplicate product", zap.Int64("product_id", product.ID))
			continue
		}
		p.seen[product.ID] = struct{}{}
		p.items = append(p.items, product)
	}
	p.cursor = page.NextCursor
	p.hasMore = page.HasMore
}
