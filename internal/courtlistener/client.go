// Package courtlistener is the HTTP client for the CourtListener v4 REST API.
//
// Every outbound call runs the same gauntlet: circuit breaker gate, then the
// shared quota tracker, then the actual request. An open circuit or an
// exhausted quota rejects before any network traffic, which is the whole
// point: the upstream never sees a request we already know it would refuse.
package courtlistener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/judicial-sync/internal/circuitbreaker"
	syncerrors "github.com/judicial-sync/internal/errors"
	"github.com/judicial-sync/internal/logging"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/telemetry"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://www.courtlistener.com/api/rest/v4"

// DefaultPageSize is the page size requested from list endpoints.
const DefaultPageSize = 100

// QuotaConsumer draws requests from the shared upstream quota.
type QuotaConsumer interface {
	Consume(ctx context.Context) error
}

// Client wraps the CourtListener REST API with quota and circuit breaker
// protection.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    QuotaConsumer
	breaker    *circuitbreaker.CircuitBreaker
}

// ClientConfig holds configuration for the API client.
type ClientConfig struct {
	// BaseURL overrides the production API root. Used by tests.
	BaseURL string

	// Token is the API authentication token. Requests without a token get
	// the anonymous (much lower) quota upstream.
	Token string

	// Timeout bounds a single HTTP request. Default: 30s.
	Timeout time.Duration

	// Limiter is the shared quota tracker. Required.
	Limiter QuotaConsumer

	// Breaker is the upstream circuit breaker. Required.
	Breaker *circuitbreaker.CircuitBreaker
}

// NewClient creates a CourtListener API client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("quota limiter is required")
	}
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    cfg.Limiter,
		breaker:    cfg.Breaker,
	}, nil
}

// get performs one protected GET. endpoint is the metrics label; rawURL is
// either an absolute pagination cursor or a path below the API root.
func (c *Client) get(ctx context.Context, endpoint, rawURL string, query url.Values) ([]byte, error) {
	fullURL := rawURL
	if len(fullURL) == 0 || fullURL[0] == '/' {
		fullURL = c.baseURL + rawURL
	}
	if len(query) > 0 {
		sep := "?"
		if u, err := url.Parse(fullURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		fullURL += sep + query.Encode()
	}

	var body []byte
	err := c.breaker.Execute(ctx, func() error {
		if err := c.limiter.Consume(ctx); err != nil {
			telemetry.RateLimitRejects.Inc()
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return syncerrors.NewPermanent("failed to build request", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Token "+c.token)
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		telemetry.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.UpstreamRequests.WithLabelValues(endpoint, "network_error").Inc()
			return syncerrors.NewTransient("request failed", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			telemetry.UpstreamRequests.WithLabelValues(endpoint, "read_error").Inc()
			return syncerrors.NewTransient("failed to read response", err)
		}

		if resp.StatusCode != http.StatusOK {
			telemetry.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			logging.WithFields(map[string]any{
				"endpoint": endpoint,
				"status":   resp.StatusCode,
			}).Warn("CourtListener request rejected")
			return syncerrors.FromHTTPStatus(resp.StatusCode, parseRetryAfter(resp))
		}

		telemetry.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
		body = data
		return nil
	})
	if err != nil {
		if syncerrors.KindOf(err) == syncerrors.KindCircuitOpen {
			telemetry.CircuitOpenRejects.Inc()
		}
		return nil, err
	}
	return body, nil
}

// parseRetryAfter reads the Retry-After header as a delay. Both the seconds
// and HTTP-date forms appear in the wild.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, query url.Values, out any) error {
	body, err := c.get(ctx, endpoint, rawURL, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return syncerrors.NewTransient("failed to parse response", err)
	}
	return nil
}

// CourtPage is one page of court results.
type CourtPage struct {
	Courts     []*models.Court
	NextCursor string
	Total      int
}

// ListCourts fetches one page of courts, optionally filtered by jurisdiction.
// cursor is the opaque next-page URL from a previous page; empty starts over.
func (c *Client) ListCourts(ctx context.Context, jurisdiction, cursor string, pageSize int) (*CourtPage, error) {
	rawURL := cursor
	query := url.Values{}
	if cursor == "" {
		rawURL = "/courts/"
		query.Set("page_size", strconv.Itoa(normalizePageSize(pageSize)))
		if jurisdiction != "" {
			query.Set("jurisdiction", jurisdiction)
		}
	} else {
		query = nil
	}

	var resp courtListResponse
	if err := c.getJSON(ctx, "courts", rawURL, query, &resp); err != nil {
		return nil, err
	}

	page := &CourtPage{NextCursor: resp.Next, Total: resp.Count}
	for _, ac := range resp.Results {
		name := ac.FullName
		if name == "" {
			name = ac.ShortName
		}
		page.Courts = append(page.Courts, &models.Court{
			ID:           ac.ID,
			Name:         name,
			Jurisdiction: ac.Jurisdiction,
			URL:          ac.URL,
			InUse:        ac.InUse,
		})
	}
	return page, nil
}

// JudgePage is one page of judge results.
type JudgePage struct {
	Judges     []*models.Judge
	NextCursor string
	Total      int
}

// ListJudges fetches one page of people from the judge database.
func (c *Client) ListJudges(ctx context.Context, cursor string, pageSize int) (*JudgePage, error) {
	rawURL := cursor
	query := url.Values{}
	if cursor == "" {
		rawURL = "/people/"
		query.Set("page_size", strconv.Itoa(normalizePageSize(pageSize)))
		query.Set("order_by", "id")
	} else {
		query = nil
	}

	var resp personListResponse
	if err := c.getJSON(ctx, "people", rawURL, query, &resp); err != nil {
		return nil, err
	}

	page := &JudgePage{NextCursor: resp.Next, Total: resp.Count}
	for _, p := range resp.Results {
		page.Judges = append(page.Judges, personToJudge(p))
	}
	return page, nil
}

// GetJudge fetches a single person record.
func (c *Client) GetJudge(ctx context.Context, judgeID string) (*models.Judge, error) {
	var p apiPerson
	if err := c.getJSON(ctx, "people", "/people/"+judgeID+"/", nil, &p); err != nil {
		return nil, err
	}
	return personToJudge(p), nil
}

func personToJudge(p apiPerson) *models.Judge {
	name := p.NameFirst
	if p.NameMiddle != "" {
		name += " " + p.NameMiddle
	}
	if p.NameLast != "" {
		name += " " + p.NameLast
	}
	return &models.Judge{
		ID:          strconv.Itoa(p.ID),
		Name:        name,
		DateCreated: parseAPIDate(p.DateCreated),
	}
}

// ListPositions fetches all positions held by a judge, following pagination.
func (c *Client) ListPositions(ctx context.Context, judgeID string) ([]Position, error) {
	query := url.Values{}
	query.Set("person", judgeID)
	query.Set("page_size", strconv.Itoa(DefaultPageSize))

	var out []Position
	cursor := ""
	for {
		rawURL := cursor
		q := query
		if cursor == "" {
			rawURL = "/positions/"
		} else {
			q = nil
		}

		var resp positionListResponse
		if err := c.getJSON(ctx, "positions", rawURL, q, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		if resp.Next == "" {
			return out, nil
		}
		cursor = resp.Next
	}
}

// ListEducations fetches all education records for a judge.
func (c *Client) ListEducations(ctx context.Context, judgeID string) ([]Education, error) {
	query := url.Values{}
	query.Set("person", judgeID)
	query.Set("page_size", strconv.Itoa(DefaultPageSize))

	var out []Education
	cursor := ""
	for {
		rawURL := cursor
		q := query
		if cursor == "" {
			rawURL = "/educations/"
		} else {
			q = nil
		}

		var resp educationListResponse
		if err := c.getJSON(ctx, "educations", rawURL, q, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		if resp.Next == "" {
			return out, nil
		}
		cursor = resp.Next
	}
}

// ListPoliticalAffiliations fetches all party affiliation records for a judge.
func (c *Client) ListPoliticalAffiliations(ctx context.Context, judgeID string) ([]PoliticalAffiliation, error) {
	query := url.Values{}
	query.Set("person", judgeID)
	query.Set("page_size", strconv.Itoa(DefaultPageSize))

	var out []PoliticalAffiliation
	cursor := ""
	for {
		rawURL := cursor
		q := query
		if cursor == "" {
			rawURL = "/political-affiliations/"
		} else {
			q = nil
		}

		var resp affiliationListResponse
		if err := c.getJSON(ctx, "political-affiliations", rawURL, q, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		if resp.Next == "" {
			return out, nil
		}
		cursor = resp.Next
	}
}

// DecisionPage is one page of opinion or docket results mapped to archive rows.
type DecisionPage struct {
	Decisions  []*models.Decision
	NextCursor string
	Total      int
}

// ListOpinions fetches one page of opinion clusters authored by a judge,
// filed on or after since when non-zero.
func (c *Client) ListOpinions(ctx context.Context, judgeID string, since time.Time, cursor string, pageSize int) (*DecisionPage, error) {
	rawURL := cursor
	query := url.Values{}
	if cursor == "" {
		rawURL = "/opinions/"
		query.Set("author", judgeID)
		query.Set("page_size", strconv.Itoa(normalizePageSize(pageSize)))
		if !since.IsZero() {
			query.Set("date_filed__gte", since.Format("2006-01-02"))
		}
	} else {
		query = nil
	}

	var resp opinionListResponse
	if err := c.getJSON(ctx, "opinions", rawURL, query, &resp); err != nil {
		return nil, err
	}

	page := &DecisionPage{NextCursor: resp.Next, Total: resp.Count}
	now := time.Now()
	for _, op := range resp.Results {
		d := &models.Decision{
			JudgeID:   judgeID,
			SourceID:  strconv.Itoa(op.ID),
			Kind:      models.DecisionOpinion,
			CourtID:   op.Court,
			FetchedAt: now,
		}
		d.DateFiled = parseAPIDate(op.DateFiled)
		page.Decisions = append(page.Decisions, d)
	}
	return page, nil
}

// ListDockets fetches one page of dockets assigned to a judge, filed on or
// after since when non-zero.
func (c *Client) ListDockets(ctx context.Context, judgeID string, since time.Time, cursor string, pageSize int) (*DecisionPage, error) {
	rawURL := cursor
	query := url.Values{}
	if cursor == "" {
		rawURL = "/dockets/"
		query.Set("assigned_to", judgeID)
		query.Set("page_size", strconv.Itoa(normalizePageSize(pageSize)))
		if !since.IsZero() {
			query.Set("date_filed__gte", since.Format("2006-01-02"))
		}
	} else {
		query = nil
	}

	var resp docketListResponse
	if err := c.getJSON(ctx, "dockets", rawURL, query, &resp); err != nil {
		return nil, err
	}

	page := &DecisionPage{NextCursor: resp.Next, Total: resp.Count}
	now := time.Now()
	for _, dk := range resp.Results {
		d := &models.Decision{
			JudgeID:   judgeID,
			SourceID:  strconv.Itoa(dk.ID),
			Kind:      models.DecisionDocket,
			CourtID:   dk.Court,
			FetchedAt: now,
		}
		d.DateFiled = parseAPIDate(dk.DateFiled)
		page.Decisions = append(page.Decisions, d)
	}
	return page, nil
}

func normalizePageSize(n int) int {
	if n <= 0 || n > DefaultPageSize {
		return DefaultPageSize
	}
	return n
}

// BreakerState reports the upstream circuit state for operational endpoints.
func (c *Client) BreakerState() circuitbreaker.Stats {
	return c.breaker.GetStats()
}
