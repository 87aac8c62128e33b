package catalog

import "context"

// Venue is a candidate record as returned by an external search provider.
type Venue struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ImageURL    string   `json:"image_url,omitempty"`
	URL         string   `json:"url,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	PriceLevel  *int     `json:"price_level,omitempty"`
	ReviewCount int      `json:"review_count"`
	Rating      float64  `json:"rating"`
}

// Provider searches an external catalog for venues near a location.
type Provider interface {
	Search(ctx context.Context, location string) ([]Venue, error)
}

func cloneVenues(venues []Venue) []Venue {
	if venues == nil {
		return nil
	}
	cloned := make([]Venue, len(venues))
	for index, venue := range venues {
		venue.Categories = append([]string(nil), venue.Categories...)
		if venue.PriceLevel != nil {
			level := *venue.PriceLevel
			venue.PriceLevel = &level
		}
		cloned[index] = venue
	}
	return cloned
}
