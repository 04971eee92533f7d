// Package weather looks up historical point-in-time conditions for sample
// rows from the OpenWeather One Call timemachine endpoint.
package weather

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/lox/cyclecounts/internal/httputil"
	"github.com/lox/cyclecounts/internal/metrics"
	"github.com/lox/cyclecounts/internal/models"
)

const (
	DefaultBaseURL           = "https://api.openweathermap.org/data/3.0/onecall/timemachine"
	DefaultRequestsPerMinute = 50
	Source                   = "owm"
	Endpoint                 = "onecall/timemachine"
)

var ErrNoData = errors.New("no data in response")

type Options struct {
	BaseURL string
	// RequestsPerMinute caps the request rate. Zero or less means unlimited.
	RequestsPerMinute int
	HTTPClient        *http.Client
	// NewBackOff builds the retry policy for one lookup.
	NewBackOff func() backoff.BackOff
}

type Client struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

func NewClient(apiKey string, opts Options) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    opts.BaseURL,
		client:     opts.HTTPClient,
		newBackOff: opts.NewBackOff,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.client == nil {
		c.client = httputil.NewClient()
	}
	if c.newBackOff == nil {
		c.newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		}
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

type timemachineResponse struct {
	Data []struct {
		Sunrise    *int64             `json:"sunrise"`
		Sunset     *int64             `json:"sunset"`
		Temp       *float64           `json:"temp"`
		WindSpeed  *float64           `json:"wind_speed"`
		WindDeg    *int64             `json:"wind_deg"`
		Visibility *float64           `json:"visibility"`
		Clouds     *float64           `json:"clouds"`
		Rain       map[string]float64 `json:"rain"`
		Weather    []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"data"`
}

// Fetch looks up conditions at lat/lon for the unix time dt. It returns the
// parsed lookup (SiteID unset) and the raw response body.
func (c *Client) Fetch(ctx context.Context, lat, lon float64, dt int64) (*models.Weather, []byte, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("dt", strconv.FormatInt(dt, 10))
	q.Set("appid", c.apiKey)
	reqURL := c.baseURL + "?" + q.Encode()

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		metrics.WeatherAPILatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.WeatherAPICallsTotal.WithLabelValues("error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch timemachine: %w", err)
		}
		defer resp.Body.Close()
		metrics.WeatherAPICallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch timemachine: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return backoff.Permanent(fmt.Errorf("fetch timemachine: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, nil, err
	}

	w, err := parseTimemachine(body)
	if err != nil {
		return nil, body, err
	}
	w.Epoch = dt
	w.QualityFlags = Validate(w)
	return w, body, nil
}

func parseTimemachine(body []byte) (*models.Weather, error) {
	var data timemachineResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(data.Data) == 0 {
		return nil, ErrNoData
	}

	d := data.Data[0]
	w := &models.Weather{FetchedAt: time.Now().UTC(), OK: true}
	if d.Sunrise != nil {
		w.Sunrise = sql.NullInt64{Int64: *d.Sunrise, Valid: true}
	}
	if d.Sunset != nil {
		w.Sunset = sql.NullInt64{Int64: *d.Sunset, Valid: true}
	}
	if d.Temp != nil {
		w.Temp = sql.NullFloat64{Float64: *d.Temp, Valid: true}
	}
	if d.WindSpeed != nil {
		w.WindSpeed = sql.NullFloat64{Float64: *d.WindSpeed, Valid: true}
	}
	if d.WindDeg != nil {
		w.WindDeg = sql.NullInt64{Int64: *d.WindDeg, Valid: true}
	}
	if d.Visibility != nil {
		w.Visibility = sql.NullFloat64{Float64: *d.Visibility, Valid: true}
	}
	if d.Clouds != nil {
		w.Clouds = sql.NullFloat64{Float64: *d.Clouds, Valid: true}
	}
	if v, ok := firstRain(d.Rain); ok {
		w.Rain = sql.NullFloat64{Float64: v, Valid: true}
	}
	if len(d.Weather) > 0 {
		w.Main = sql.NullString{String: d.Weather[0].Main, Valid: d.Weather[0].Main != ""}
		w.Description = sql.NullString{String: d.Weather[0].Description, Valid: d.Weather[0].Description != ""}
	}
	return w, nil
}

// firstRain picks the rain volume, preferring the 1h accumulation.
func firstRain(rain map[string]float64) (float64, bool) {
	if len(rain) == 0 {
		return 0, false
	}
	if v, ok := rain["1h"]; ok {
		return v, true
	}
	keys := make([]string, 0, len(rain))
	for k := range rain {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return rain[keys[0]], true
}
