package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/ports"
)

var (
	ErrBadStatus  = errors.New("directions: unexpected status")
	ErrEmptyRoute = errors.New("directions: empty route")
	ErrNoMatch    = errors.New("geocode: no match")
)

const maxBody = 4 << 20

// Client talks to the maps endpoints of the dispatch backend. It implements
// both ports.DirectionsClient and ports.Geocoder.
type Client struct {
	base string
	http *http.Client
	log  *logger.Logger
}

var (
	_ ports.DirectionsClient = (*Client)(nil)
	_ ports.Geocoder         = (*Client)(nil)
)

func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Directions requests a route from origin to destination.
func (c *Client) Directions(ctx context.Context, origin, destination geo.Point) (*ports.Route, error) {
	q := url.Values{}
	q.Set("origin", formatPoint(origin))
	q.Set("destination", formatPoint(destination))

	var route ports.Route
	if err := c.get(ctx, "/api/maps/directions", q, &route); err != nil {
		return nil, err
	}
	if len(route.Coordinates) == 0 {
		return nil, ErrEmptyRoute
	}
	return &route, nil
}

// Geocode resolves a free-form address.
func (c *Client) Geocode(ctx context.Context, address string) (geo.Point, error) {
	q := url.Values{}
	q.Set("address", address)

	var out struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := c.get(ctx, "/api/maps/geocode", q, &out); err != nil {
		return geo.Point{}, err
	}
	if out.Lat == nil || out.Lng == nil {
		return geo.Point{}, ErrNoMatch
	}
	point := geo.Point{Lat: *out.Lat, Lng: *out.Lng}
	if err := point.Validate(); err != nil {
		return geo.Point{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	return point, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasSuffix(path, "geocode") {
		return ErrNoMatch
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn(ctx, "maps_request_failed", "maps endpoint answered with an error", ErrBadStatus, map[string]any{
			"path":   path,
			"status": resp.StatusCode,
		})
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func formatPoint(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
