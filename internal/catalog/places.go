package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultPlacesHTTPTimeout = 10 * time.Second
	placesStatusOK           = "OK"
	placesStatusZeroResults  = "ZERO_RESULTS"
	placesPhotoMaxWidth      = "400"
	placesMapsPlaceURL       = "https://www.google.com/maps/place/?q=place_id:"

	// PhotoPathPrefix is where venue photos are served without exposing the provider key.
	PhotoPathPrefix = "/photos/"
)

var (
	// ErrMissingAPIKey indicates the provider was not configured with credentials.
	ErrMissingAPIKey = errors.New("catalog: places api key required")
	// ErrMissingBaseURL indicates the provider endpoint is not configured.
	ErrMissingBaseURL = errors.New("catalog: places base url required")
	// ErrProviderStatus indicates the provider answered with a non-success status.
	ErrProviderStatus = errors.New("catalog: provider returned error status")
	// ErrPhotoNotFound indicates the provider has no photo for the reference.
	ErrPhotoNotFound = errors.New("catalog: photo not found")
)

// Photo is an image streamed from the provider. Callers close Body.
type Photo struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// PlacesClientConfig configures the Google Places text search client.
type PlacesClientConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// PlacesClient queries the Google Places text search endpoint for restaurants.
type PlacesClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewPlacesClient constructs a PlacesClient. A missing key is reported per search, not here,
// so the service still starts without provider credentials.
func NewPlacesClient(cfg PlacesClientConfig) (*PlacesClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultPlacesHTTPTimeout}
	}
	return &PlacesClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

type placesSearchResponse struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message"`
	Results      []placeResult `json:"results"`
}

type placeResult struct {
	PlaceID          string       `json:"place_id"`
	Name             string       `json:"name"`
	Types            []string     `json:"types"`
	PriceLevel       *int         `json:"price_level"`
	UserRatingsTotal int          `json:"user_ratings_total"`
	Rating           float64      `json:"rating"`
	Photos           []placePhoto `json:"photos"`
}

type placePhoto struct {
	PhotoReference string `json:"photo_reference"`
}

// Search returns restaurants matching "restaurants in <location>" in provider order.
func (c *PlacesClient) Search(ctx context.Context, location string) ([]Venue, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	query := url.Values{}
	query.Set("query", "restaurants in "+location)
	query.Set("type", "restaurant")
	query.Set("key", c.apiKey)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/textsearch/json?"+query.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil, fmt.Errorf("%w: http %d", ErrProviderStatus, response.StatusCode)
	}

	var payload placesSearchResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("catalog: decode places response: %w", err)
	}
	switch payload.Status {
	case placesStatusOK, "":
	case placesStatusZeroResults:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s %s", ErrProviderStatus, payload.Status, payload.ErrorMessage)
	}

	venues := make([]Venue, 0, len(payload.Results))
	for _, place := range payload.Results {
		if strings.TrimSpace(place.PlaceID) == "" {
			continue
		}
		venues = append(venues, c.toVenue(place))
	}
	return venues, nil
}

func (c *PlacesClient) toVenue(place placeResult) Venue {
	venue := Venue{
		ID:          place.PlaceID,
		Name:        place.Name,
		URL:         placesMapsPlaceURL + place.PlaceID,
		Categories:  append([]string(nil), place.Types...),
		PriceLevel:  place.PriceLevel,
		ReviewCount: place.UserRatingsTotal,
		Rating:      place.Rating,
	}
	if len(place.Photos) > 0 && place.Photos[0].PhotoReference != "" {
		venue.ImageURL = PhotoPathPrefix + url.PathEscape(place.Photos[0].PhotoReference)
	}
	return venue
}

// Photo fetches the image behind a photo reference. The provider redirect is followed.
func (c *PlacesClient) Photo(ctx context.Context, reference string) (Photo, error) {
	if c.apiKey == "" {
		return Photo{}, ErrMissingAPIKey
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Photo{}, ErrPhotoNotFound
	}

	query := url.Values{}
	query.Set("maxwidth", placesPhotoMaxWidth)
	query.Set("photoreference", reference)
	query.Set("key", c.apiKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/photo?"+query.Encode(), http.NoBody)
	if err != nil {
		return Photo{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return Photo{}, err
	}

	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusNotFound, response.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
		return Photo{}, ErrPhotoNotFound
	default:
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
		return Photo{}, fmt.Errorf("%w: http %d", ErrProviderStatus, response.StatusCode)
	}

	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Photo{Body: response.Body, ContentType: contentType, Size: response.ContentLength}, nil
}
