package executor

// occurrenceResponse mirrors the fields of the GBIF occurrence search
// response that the result table needs.
type occurrenceResponse struct {
	Offset       int64              `json:"offset"`
	Limit        int                `json:"limit"`
	EndOfRecords bool               `json:"endOfRecords"`
	Count        int64              `json:"count"`
	Results      []occurrenceRecord `json:"results"`
}

type occurrenceRecord struct {
	Key             int64   `json:"key"`
	CatalogNumber   string  `json:"catalogNumber"`
	ScientificName  string  `json:"scientificName"`
	EventDate       string  `json:"eventDate"`
	RecordedBy      string  `json:"recordedBy"`
	Locality        string  `json:"locality"`
	InstitutionCode string  `json:"institutionCode"`
	Media           []media `json:"media"`
}

type media struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// Record is a single occurrence shaped for display and export.
type Record struct {
	Key             int64  `json:"key"`
	Permalink       string `json:"permalink"`
	CatalogNumber   string `json:"catalogNumber"`
	ScientificName  string `json:"scientificName"`
	EventDate       string `json:"eventDate"`
	RecordedBy      string `json:"recordedBy"`
	Locality        string `json:"locality"`
	InstitutionCode string `json:"institutionCode"`
	ImageURL        string `json:"imageUrl,omitempty"`
	ImageCount      int    `json:"imageCount"`
}

// SearchResult is one page of occurrence search results.
type SearchResult struct {
	Records      []Record `json:"records"`
	Count        int64    `json:"count"`
	Offset       int64    `json:"offset"`
	EndOfRecords bool     `json:"endOfRecords"`
	RawURL       string   `json:"rawUrl"`
}
