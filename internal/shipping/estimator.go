// Package shipping turns a destination coordinate into a distance-based fee
// using an OSRM-compatible routing service.
package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrShippingUnavailable indicates the routing provider failed or found no route.
	ErrShippingUnavailable = apperr.New(apperr.KindExternal, "shipping_unavailable", "shipping: unavailable")
	// ErrInvalidDestination indicates the coordinate is out of range.
	ErrInvalidDestination = apperr.New(apperr.KindValidation, "invalid_destination", "shipping: invalid destination")
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 || (c.Lat == 0 && c.Lng == 0) {
		return ErrInvalidDestination.Withf("shipping: invalid destination %f,%f", c.Lat, c.Lng)
	}
	return nil
}

func (c Coordinate) key() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}

type Quote struct {
	DistanceKm float64 `json:"distance_km"`
	Fee        int64   `json:"fee"`
}

// DistanceCache remembers route distances between the store and a destination.
type DistanceCache interface {
	GetRouteDistance(ctx context.Context, key string) (km float64, ok bool, err error)
	SetRouteDistance(ctx context.Context, key string, km float64, ttl time.Duration) error
}

type Config struct {
	BaseURL   string
	Store     Coordinate
	RatePerKm int64
	Timeout   time.Duration
	CacheTTL  time.Duration
}

type route struct {
	meters float64
	found  bool
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

type Estimator struct {
	cfg     Config
	client  *http.Client
	cache   DistanceCache
	breaker *gobreaker.CircuitBreaker[route]
	group   singleflight.Group
	logger  *zap.Logger
}

// NewEstimator builds an estimator; cache may be nil.
func NewEstimator(cfg Config, client *http.Client, cache DistanceCache) *Estimator {
	return &Estimator{
		cfg:     cfg,
		client:  client,
		cache:   cache,
		breaker: util.NewCircuitBreaker[route]("osrm"),
		logger:  util.Named("shipping"),
	}
}

// Fee is ceil(km * ratePerKm) where km is already rounded to one decimal.
func Fee(km decimal.Decimal, ratePerKm int64) int64 {
	return km.Mul(decimal.NewFromInt(ratePerKm)).Ceil().IntPart()
}

// Quote returns the distance and fee to dest.
func (e *Estimator) Quote(ctx context.Context, dest Coordinate) (*Quote, error) {
	ctx, span := util.StartSpan(ctx, "Estimator.Quote")
	defer span.End()

	if err := dest.Validate(); err != nil {
		return nil, err
	}

	key := dest.key()
	if km, ok := e.cachedDistance(ctx, key); ok {
		util.ShippingCacheHitsTotal.Inc()
		return e.quote(decimal.NewFromFloat(km)), nil
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.fetchDistance(ctx, dest)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	km := v.(decimal.Decimal)
	if e.cache != nil {
		f, _ := km.Float64()
		if err := e.cache.SetRouteDistance(ctx, key, f, e.cfg.CacheTTL); err != nil {
			e.logger.Warn("Failed to cache route distance", zap.String("key", key), zap.Error(err))
		}
	}
	return e.quote(km), nil
}

func (e *Estimator) quote(km decimal.Decimal) *Quote {
	f, _ := km.Float64()
	return &Quote{DistanceKm: f, Fee: Fee(km, e.cfg.RatePerKm)}
}

func (e *Estimator) cachedDistance(ctx context.Context, key string) (float64, bool) {
	if e.cache == nil {
		return 0, false
	}
	km, ok, err := e.cache.GetRouteDistance(ctx, key)
	if err != nil {
		e.logger.Warn("Route distance cache read failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return km, ok
}

// fetchDistance runs detached from the caller's cancellation so that one
// impatient caller cannot fail the shared flight; the timeout still applies.
func (e *Estimator) fetchDistance(ctx context.Context, dest Coordinate) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	r, err := e.breaker.Execute(func() (route, error) {
		return e.route(ctx, dest)
	})
	util.ShippingQuoteLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		reason := "provider_error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = "circuit_open"
		} else if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		util.ShippingUnavailableTotal.WithLabelValues(reason).Inc()
		e.logger.Warn("Routing provider failed", zap.String("reason", reason), zap.Error(err))
		return decimal.Zero, ErrShippingUnavailable.Wrap(err)
	}
	if !r.found {
		util.ShippingUnavailableTotal.WithLabelValues("no_route").Inc()
		return decimal.Zero, ErrShippingUnavailable.Withf("shipping: no route to %s", dest.key())
	}

	return decimal.NewFromFloat(r.meters).Div(decimal.NewFromInt(1000)).Round(1), nil
}

func (e *Estimator) route(ctx context.Context, dest Coordinate) (route, error) {
	u := fmt.Sprintf("%s/route/v1/driving/%s,%s;%s,%s?overview=false",
		strings.TrimRight(e.cfg.BaseURL, "/"),
		formatCoord(e.cfg.Store.Lng), formatCoord(e.cfg.Store.Lat),
		formatCoord(dest.Lng), formatCoord(dest.Lat))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return route{}, err
	}

	res, err := e.client.Do(req)
	if err != nil {
		return route{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return route{}, err
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return route{}, fmt.Errorf("routing provider returned HTTP %d", res.StatusCode)
	}

	var out osrmResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return route{}, fmt.Errorf("malformed routing response: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return route{found: false}, nil
	}
	return route{meters: out.Routes[0].Distance, found: true}, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
