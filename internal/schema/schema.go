// Package schema defines the structured search parameters produced by query
// translation and consumed by the occurrence search, plus validation of raw
// translator output against the parameter schema.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/xeipuuv/gojsonschema"
)

// ErrValidation is the sentinel wrapped by every ValidationError.
var ErrValidation = errors.New("VALIDATION_FAILED")

// ValidationError reports a single field that failed schema validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CandidateParameters holds the fields extracted from a natural-language
// query. Every field is optional; nil means the query did not mention it.
// Institution and Collection are free-text names that still need resolving
// to GRSciColl identifiers before a search can use them.
type CandidateParameters struct {
	ScientificName *string `json:"scientificName,omitempty"`
	Locality       *string `json:"locality,omitempty"`
	Continent      *string `json:"continent,omitempty"`
	Country        *string `json:"country,omitempty"`
	StateProvince  *string `json:"stateProvince,omitempty"`
	RecordedBy     *string `json:"recordedBy,omitempty"`
	DateFrom       *string `json:"dateFrom,omitempty"`
	DateTo         *string `json:"dateTo,omitempty"`
	Institution    *string `json:"institution,omitempty"`
	Collection     *string `json:"collection,omitempty"`
	HasImage       *bool   `json:"hasImage,omitempty"`
}

// ResolvedParameters is a CandidateParameters whose free-text names have been
// replaced by identifiers. It is the complete input to an occurrence search;
// page requests round-trip it so a page turn never re-runs translation.
type ResolvedParameters struct {
	ScientificName *string `json:"scientificName,omitempty"`
	Locality       *string `json:"locality,omitempty"`
	Continent      *string `json:"continent,omitempty"`
	Country        *string `json:"country,omitempty"`
	StateProvince  *string `json:"stateProvince,omitempty"`
	RecordedBy     *string `json:"recordedBy,omitempty"`
	DateFrom       *string `json:"dateFrom,omitempty"`
	DateTo         *string `json:"dateTo,omitempty"`
	HasImage       *bool   `json:"hasImage,omitempty"`

	InstitutionKey *string `json:"institutionKey,omitempty"`
	CollectionKey  *string `json:"collectionKey,omitempty"`

	// Manual overrides, applied only when no institution key is in play.
	InstitutionCode *string `json:"institutionCode,omitempty"`
	CollectionCode  *string `json:"collectionCode,omitempty"`
}

// candidateSchema constrains raw translator output. Unknown fields are
// rejected rather than silently passed through to the search API.
const candidateSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"scientificName": {"type": "string"},
		"locality":       {"type": "string"},
		"continent":      {"type": "string"},
		"country":        {"type": "string", "pattern": "^[A-Za-z]{2}$"},
		"stateProvince":  {"type": "string"},
		"recordedBy":     {"type": "string"},
		"dateFrom":       {"type": "string"},
		"dateTo":         {"type": "string"},
		"institution":    {"type": "string"},
		"collection":     {"type": "string"},
		"hasImage":       {"type": "boolean"}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(candidateSchema)

// FieldGuide describes each parameter for the translation prompt.
const FieldGuide = `scientificName: the Latin binomial or higher taxon name, e.g. "Cyanocitta cristata"
locality: a free-text place description below state level, e.g. "Toronto"
continent: one of AFRICA, ANTARCTICA, ASIA, EUROPE, NORTH_AMERICA, OCEANIA, SOUTH_AMERICA
country: the ISO 3166-1 alpha-2 code, e.g. "CA"
stateProvince: a first-level administrative division, e.g. "Ontario"
recordedBy: the name of the collector or observer, e.g. "Darwin"
dateFrom: the start of the collection date range, ISO yyyy-mm-dd
dateTo: the end of the collection date range, ISO yyyy-mm-dd
institution: the free-text name of the holding institution, e.g. "Field Museum"
collection: the free-text name of the collection, e.g. "Ornithology Collection"
hasImage: true when the user asks for records with photographs`

// ValidateRaw checks a decoded translator response against the parameter
// schema, normalizes its values, and returns typed parameters. Dates in any
// common format are normalized to ISO yyyy-mm-dd; empty and whitespace-only
// strings are treated as absent.
func ValidateRaw(raw map[string]interface{}) (*CandidateParameters, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, &ValidationError{Field: "", Reason: err.Error()}
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return nil, &ValidationError{Field: first.Field(), Reason: first.Description()}
	}

	params := &CandidateParameters{
		ScientificName: stringField(raw, "scientificName"),
		Locality:       stringField(raw, "locality"),
		Continent:      stringField(raw, "continent"),
		Country:        stringField(raw, "country"),
		StateProvince:  stringField(raw, "stateProvince"),
		RecordedBy:     stringField(raw, "recordedBy"),
		Institution:    stringField(raw, "institution"),
		Collection:     stringField(raw, "collection"),
	}

	if v, ok := raw["hasImage"].(bool); ok {
		params.HasImage = &v
	}

	if params.Country != nil {
		upper := strings.ToUpper(*params.Country)
		params.Country = &upper
	}
	if params.Continent != nil {
		upper := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(*params.Continent), " ", "_"))
		params.Continent = &upper
	}

	from, err := dateField(raw, "dateFrom")
	if err != nil {
		return nil, err
	}
	to, err := dateField(raw, "dateTo")
	if err != nil {
		return nil, err
	}
	params.DateFrom = from
	params.DateTo = to

	if params.DateFrom != nil && params.DateTo != nil && *params.DateFrom > *params.DateTo {
		return nil, &ValidationError{Field: "dateFrom", Reason: "date range start is after its end"}
	}

	return params, nil
}

func stringField(raw map[string]interface{}, key string) *string {
	v, ok := raw[key].(string)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func dateField(raw map[string]interface{}, key string) (*string, error) {
	v := stringField(raw, key)
	if v == nil {
		return nil, nil
	}

	t, err := dateparse.ParseAny(*v)
	if err != nil {
		return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("unparseable date %q", *v)}
	}

	iso := t.Format(time.DateOnly)
	return &iso, nil
}

// Resolved carries the candidate fields into a ResolvedParameters, leaving
// identifier fields empty for the resolution stage to fill.
func (c *CandidateParameters) Resolved() *ResolvedParameters {
	return &ResolvedParameters{
		ScientificName: c.ScientificName,
		Locality:       c.Locality,
		Continent:      c.Continent,
		Country:        c.Country,
		StateProvince:  c.StateProvince,
		RecordedBy:     c.RecordedBy,
		DateFrom:       c.DateFrom,
		DateTo:         c.DateTo,
		HasImage:       c.HasImage,
	}
}
