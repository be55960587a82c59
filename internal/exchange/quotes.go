package exchange

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Scanner finds the active catalog market for an asset.
type Scanner interface {
	ScanAsset(ctx context.Context, filter AssetFilter) (*MarketQuote, error)
}

// QuoteService composes the catalog scanner with live order book pricing.
// It implements QuoteFeed: ActiveMarket returns the current up/down market
// with its implied probability filled in, or nil when no market is open or
// the book is too thin.
type QuoteService struct {
	scanner     Scanner
	books       BookSource
	filters     map[string]AssetFilter
	minLiq      map[string]float64
	depthLevels int
	log         zerolog.Logger
}

func NewQuoteService(scanner Scanner, books BookSource, depthLevels int, log zerolog.Logger) *QuoteService {
	return &QuoteService{
		scanner:     scanner,
		books:       books,
		filters:     make(map[string]AssetFilter),
		minLiq:      make(map[string]float64),
		depthLevels: depthLevels,
		log:         log.With().Str("component", "quotes").Logger(),
	}
}

// Track registers an asset to scan for.
func (q *QuoteService) Track(asset string, keywords []string, minLiquidityUSD float64) {
	q.filters[asset] = AssetFilter{Asset: asset, Keywords: keywords}
	q.minLiq[asset] = minLiquidityUSD
}

func (q *QuoteService) ActiveMarket(ctx context.Context, asset string) (*MarketQuote, error) {
	filter, ok := q.filters[asset]
	if !ok {
		return nil, fmt.Errorf("asset %s not tracked", asset)
	}

	quote, err := q.scanner.ScanAsset(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("scan %s markets: %w", asset, err)
	}
	if quote == nil {
		return nil, nil
	}

	book, err := q.books.Book(ctx, quote.TokenUp)
	if err != nil {
		return nil, fmt.Errorf("fetch %s book: %w", asset, err)
	}

	if liq := book.AskLiquidityUSD(q.depthLevels); liq < q.minLiq[asset] {
		q.log.Debug().
			Str("asset", asset).Str("market", quote.MarketID).
			Float64("liquidity_usd", liq).Float64("min", q.minLiq[asset]).
			Msg("market below liquidity floor")
		return nil, nil
	}

	ask, ok := book.BestAsk()
	if !ok {
		return nil, nil
	}
	quote.ImpliedUpProb = ask.Price
	return quote, nil
}
