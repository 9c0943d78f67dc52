package models

// UserConfig is the per-request addon configuration. It arrives with every
// call so different installs can use different TMDB keys and languages.
type UserConfig struct {
	APIKey      string
	Language    string
	ShowRating  bool
	ShowTagline bool
}

// Stream is one presentable entry in a stream response. ExternalURL points at
// a catalog page or a deep link; the addon never serves media itself.
type Stream struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	ExternalURL string `json:"externalUrl"`
}

// StreamsResponse is the wire shape Stremio expects from a stream resource.
type StreamsResponse struct {
	Streams []Stream `json:"streams"`
}

// Manifest describes the addon to Stremio clients.
type Manifest struct {
	ID            string                `json:"id"`
	Version       string                `json:"version"`
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	Logo          string                `json:"logo,omitempty"`
	Types         []string              `json:"types"`
	IDPrefixes    []string              `json:"idPrefixes"`
	Resources     []string              `json:"resources"`
	Catalogs      []ManifestCatalog     `json:"catalogs"`
	BehaviorHints ManifestBehaviorHints `json:"behaviorHints"`
	Config        []ManifestConfigField `json:"config"`
}

// ManifestCatalog exists only so the catalogs array serializes as [] instead
// of null.
type ManifestCatalog struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type ManifestBehaviorHints struct {
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

// ManifestConfigField describes one input on the configure page.
type ManifestConfigField struct {
	Key      string `json:"key"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Required bool   `json:"required,omitempty"`
}

// DefaultManifest returns the addon manifest served at /manifest.json.
func DefaultManifest() Manifest {
	return Manifest{
		ID:          "community.collectionaddon",
		Version:     "1.0.0",
		Name:        "Collection Content",
		Description: "Lists content within a TMDB collection, sorted by release date with the ability to navigate between items directly on Stremio. It also includes the option to retrieve ratings from TMDB, the number of votes, and to display the tagline of the content.",
		Logo:        "https://i.imgur.com/jEPaX6R.png",
		Types:       []string{"movie"},
		IDPrefixes:  []string{"tt"},
		Resources:   []string{"stream"},
		Catalogs:    []ManifestCatalog{},
		BehaviorHints: ManifestBehaviorHints{
			Configurable:          true,
			ConfigurationRequired: false,
		},
		Config: []ManifestConfigField{
			{Key: "tmdbApiKey", Type: "text", Title: "TMDB API Key", Required: true},
			{Key: "language", Type: "text", Title: "Language (ISO 639-1 code)", Required: true},
			{Key: "showRating", Type: "checkbox", Title: "Show Rating"},
			{Key: "showTagline", Type: "checkbox", Title: "Show Tagline"},
		},
	}
}
