package catalogapi

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tripc-agent/internal/domain"
)

const (
	defaultBaseURL     = "https://api.tripc.ai"
	defaultLimit       = 5
	defaultPageSize    = 10
	defaultConcurrency = 4
)

// TokenSource yields the bearer token. *paramstore.Token satisfies it.
type TokenSource interface {
	Value(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("catalogapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type listEnvelope[T any] struct {
	Data []T `json:"data"`
}

type productType struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	NameEN string `json:"name_en"`
	Slug   string `json:"slug"`
}

type serviceItem struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	LogoURL       string   `json:"logo_url"`
	CoverImageURL string   `json:"cover_image_url"`
	Rating        *float64 `json:"rating"`
	Address       string   `json:"address"`
	City          string   `json:"city"`
	Description   string   `json:"description"`
	PriceRange    string   `json:"price_range"`
}

// Client talks to the upstream travel catalog. It serves both as the
// category fetcher and as the service-search capability.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	token       TokenSource
	serviceType string
	limit       int
	pageSize    int
	concurrency int
	logger      *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken attaches a bearer token to every request.
func WithToken(t TokenSource) Option {
	return func(c *Client) {
		c.token = t
	}
}

// WithLimit caps the number of services returned by SearchServices.
func WithLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		serviceType: "restaurant",
		limit:       defaultLimit,
		pageSize:    defaultPageSize,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCategories returns every product type known upstream.
func (c *Client) FetchCategories(ctx context.Context) ([]domain.Category, error) {
	var env listEnvelope[productType]
	if err := c.getJSON(ctx, "/api/services/product-type/all", nil, &env); err != nil {
		return nil, fmt.Errorf("catalogapi: FetchCategories: %w", err)
	}

	out := make([]domain.Category, 0, len(env.Data))
	for _, pt := range env.Data {
		if pt.ID == 0 || strings.TrimSpace(pt.Name) == "" {
			continue
		}
		var synonyms []string
		if s := strings.TrimSpace(pt.NameEN); s != "" {
			synonyms = append(synonyms, s)
		}
		if s := strings.TrimSpace(strings.ReplaceAll(pt.Slug, "-", " ")); s != "" {
			synonyms = append(synonyms, s)
		}
		out = append(out, domain.Category{ID: pt.ID, Name: strings.TrimSpace(pt.Name), Synonyms: synonyms})
	}
	return out, nil
}

// SearchServices queries every (category, region) combination concurrently,
// merges the results by identifier and returns the best rated ones. Empty
// lists mean "unfiltered" for that dimension. Individual request failures are
// tolerated as long as at least one request succeeds.
func (c *Client) SearchServices(ctx context.Context, categoryIDs, regionIDs []int) ([]domain.Service, error) {
	type query struct{ category, region int }
	var queries []query
	for _, cat := range orAny(categoryIDs) {
		for _, region := range orAny(regionIDs) {
			queries = append(queries, query{cat, region})
		}
	}

	var (
		mu     sync.Mutex
		merged = make(map[int]domain.Service)
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, q := range queries {
		g.Go(func() error {
			items, err := c.listServices(gctx, q.category, q.region)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			for _, it := range items {
				if _, seen := merged[it.ID]; !seen {
					merged[it.ID] = it
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == len(queries) {
		return nil, fmt.Errorf("catalogapi: SearchServices: %w", errors.Join(errs...))
	}
	if len(errs) > 0 {
		c.logger.Warn("partial service search failure", "failed", len(errs), "queries", len(queries), "err", errs[0])
	}

	out := make([]domain.Service, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b domain.Service) int {
		if r := cmp.Compare(b.Rating, a.Rating); r != 0 {
			return r
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > c.limit {
		out = out[:c.limit]
	}
	return out, nil
}

// Sources is the attribution attached to service-list responses.
func (c *Client) Sources() []domain.Source {
	return []domain.Source{{
		Title: "TripC API",
		URL:   c.baseURL + "/api/services/restaurants",
	}}
}

func (c *Client) listServices(ctx context.Context, category, region int) ([]domain.Service, error) {
	params := url.Values{}
	params.Set("page", "1")
	params.Set("page_size", strconv.Itoa(c.pageSize))
	if category > 0 {
		params.Set("product_type_id", strconv.Itoa(category))
	}
	if region > 0 {
		params.Set("province_id", strconv.Itoa(region))
	}

	var env listEnvelope[serviceItem]
	if err := c.getJSON(ctx, "/api/services/restaurants", params, &env); err != nil {
		return nil, err
	}
	out := make([]domain.Service, 0, len(env.Data))
	for _, it := range env.Data {
		out = append(out, c.toService(it))
	}
	return out, nil
}

func (c *Client) toService(it serviceItem) domain.Service {
	s := domain.Service{
		ID:          it.ID,
		Name:        it.Name,
		Type:        cmp.Or(it.Type, c.serviceType),
		ImageURL:    cmp.Or(it.LogoURL, it.CoverImageURL),
		Address:     it.Address,
		City:        it.City,
		Description: it.Description,
		PriceRange:  it.PriceRange,
	}
	if it.Rating != nil {
		s.Rating = *it.Rating
	}
	return s
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		tok, err := c.token.Value(ctx)
		if err != nil {
			return fmt.Errorf("resolve token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func orAny(ids []int) []int {
	if len(ids) == 0 {
		return []int{0}
	}
	return ids
}
