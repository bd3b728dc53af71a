package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/your-org/adx-trend-bot/internal/market"
)

const maxBarsPerPage = 10000

// GetBars returns raw (unadjusted) bars whose period starts inside the
// trailing lookback*barSize window, oldest first.
func (c *Client) GetBars(ctx context.Context, symbol string, barSize time.Duration, lookback int) ([]market.Bar, error) {
	tf, err := timeframe(barSize)
	if err != nil {
		return nil, err
	}
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookback)
	}
	end := c.now().UTC()
	start := end.Add(-time.Duration(lookback) * barSize)

	q := url.Values{}
	q.Set("timeframe", tf)
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(maxBarsPerPage))
	q.Set("adjustment", "raw")
	q.Set("feed", c.cfg.Feed)
	q.Set("sort", "asc")

	path := "/v2/stocks/" + url.PathEscape(symbol) + "/bars"
	var bars []market.Bar
	for {
		var resp BarsResponse
		if err := c.data(ctx, path, q, &resp); err != nil {
			return nil, err
		}
		for _, b := range resp.Bars {
			bars = append(bars, market.Bar{Time: b.T.UTC(), Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V})
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		q.Set("page_token", *resp.NextPageToken)
	}
	return market.SortBars(bars), nil
}

// LatestPrice is the last trade price, used as the submission snapshot.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("feed", c.cfg.Feed)
	var resp LatestTradeResponse
	if err := c.data(ctx, "/v2/stocks/"+url.PathEscape(symbol)+"/trades/latest", q, &resp); err != nil {
		return 0, err
	}
	if resp.Trade.P <= 0 {
		return 0, fmt.Errorf("latest trade for %s has no price", symbol)
	}
	return resp.Trade.P, nil
}
