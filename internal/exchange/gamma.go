package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// timeIntervalRe matches interval titles like "1:45PM-2:00PM" or "14:45-15:00".
// Events without an interval in the title are not short-cycle markets.
var timeIntervalRe = regexp.MustCompile(`\d{1,2}:\d{2}(?:[APM]{2})?-\d{1,2}:\d{2}(?:[APM]{2})?`)

// AssetFilter selects Gamma events for one underlying asset.
type AssetFilter struct {
	Asset    string
	Keywords []string
}

// GammaClient scans the Gamma catalog API for active short-cycle
// up/down markets.
type GammaClient struct {
	host     string
	client   *http.Client
	pageSize int
	maxPages int
	window   time.Duration
	log      zerolog.Logger
}

func NewGammaClient(host string, log zerolog.Logger) *GammaClient {
	return &GammaClient{
		host:     strings.TrimRight(host, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		pageSize: 100,
		maxPages: 15,
		window:   60 * time.Minute,
		log:      log.With().Str("component", "gamma").Logger(),
	}
}

type gammaEvent struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	EndDate string        `json:"endDate"`
	Markets []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Outcomes     json.RawMessage `json:"outcomes"`
}

// ScanAsset finds the soonest-expiring up/down market for the asset whose
// expiry falls within the scan window. Returns nil when none is open.
func (g *GammaClient) ScanAsset(ctx context.Context, filter AssetFilter) (*MarketQuote, error) {
	now := time.Now().UTC()
	windowEnd := now.Add(g.window)

	for page := 0; page < g.maxPages; page++ {
		events, err := g.fetchEvents(ctx, filter, page*g.pageSize)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return nil, nil
		}

		// Catalog pages are ordered by endDate ascending; a page that ends
		// entirely in the past can be skipped without inspection.
		if last, err := parseGammaTime(events[len(events)-1].EndDate); err == nil && last.Before(now) {
			continue
		}

		for _, ev := range events {
			quote := g.matchEvent(ev, filter, now, windowEnd)
			if quote != nil {
				return quote, nil
			}
		}
	}
	return nil, nil
}

func (g *GammaClient) fetchEvents(ctx context.Context, filter AssetFilter, offset int) ([]gammaEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(g.pageSize))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "endDate")
	params.Set("ascending", "true")
	if len(filter.Keywords) > 0 {
		params.Set("q", filter.Keywords[0])
	}

	endpoint := g.host + "/events?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build gamma request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch gamma events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma events: unexpected status %d", resp.StatusCode)
	}

	var events []gammaEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode gamma events: %w", err)
	}
	return events, nil
}

func (g *GammaClient) matchEvent(ev gammaEvent, filter AssetFilter, now, windowEnd time.Time) *MarketQuote {
	title := strings.ToLower(ev.Title)

	matched := false
	for _, kw := range filter.Keywords {
		if strings.Contains(title, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}
	if !strings.Contains(title, "up") || !strings.Contains(title, "down") {
		return nil
	}
	if !timeIntervalRe.MatchString(title) {
		return nil
	}

	closeTime, err := parseGammaTime(ev.EndDate)
	if err != nil || closeTime.Before(now) || closeTime.After(windowEnd) {
		return nil
	}

	for _, m := range ev.Markets {
		tokens := decodeStringList(m.ClobTokenIDs)
		outcomes := decodeStringList(m.Outcomes)
		if len(tokens) < 2 {
			continue
		}

		up, down := tokens[0], tokens[1]
		// Outcome labels are authoritative when present; token order is
		// only a fallback.
		for i, o := range outcomes {
			if i >= len(tokens) {
				break
			}
			switch strings.ToLower(o) {
			case "up", "yes":
				up = tokens[i]
			case "down", "no":
				down = tokens[i]
			}
		}

		return &MarketQuote{
			MarketID:    m.ID,
			ConditionID: m.ConditionID,
			EventID:     ev.ID,
			Slug:        ev.Slug,
			Question:    m.Question,
			Asset:       filter.Asset,
			TokenUp:     up,
			TokenDown:   down,
			OpenTime:    closeTime.Add(-contractCycle(ev.Title)),
			CloseTime:   closeTime,
		}
	}
	return nil
}

// contractCycle infers the cycle length from the interval in the title.
// Unparseable intervals fall back to the standard 15 minutes.
func contractCycle(title string) time.Duration {
	m := timeIntervalRe.FindString(title)
	parts := strings.Split(m, "-")
	if len(parts) != 2 {
		return 15 * time.Minute
	}
	start, err1 := parseClock(parts[0])
	end, err2 := parseClock(parts[1])
	if err1 != nil || err2 != nil {
		return 15 * time.Minute
	}
	d := end - start
	if d <= 0 {
		d += 24 * time.Hour
	}
	if d > time.Hour {
		return 15 * time.Minute
	}
	return d
}

func parseClock(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	meridiem := ""
	if strings.HasSuffix(s, "AM") || strings.HasSuffix(s, "PM") {
		meridiem = s[len(s)-2:]
		s = s[:len(s)-2]
	}
	hm := strings.Split(s, ":")
	if len(hm) != 2 {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil {
		return 0, err
	}
	if meridiem == "PM" && h < 12 {
		h += 12
	}
	if meridiem == "AM" && h == 12 {
		h = 0
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// parseGammaTime handles the catalog's endDate variants: RFC3339, with or
// without fractional seconds or zone suffix.
func parseGammaTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	if i := strings.Index(s, "."); i >= 0 {
		s = s[:i]
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse gamma time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// decodeStringList tolerates both a JSON array and an array double-encoded
// as a JSON string, which the catalog serves interchangeably.
func decodeStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}
