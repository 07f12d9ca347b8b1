package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBundle is returned when an input is not a FHIR Bundle.
var ErrInvalidBundle = errors.New("Input is not a valid FHIR Bundle")

// Bundle types accepted as record containers.
const (
	BundleTypeCollection = "collection"
	BundleTypeDocument   = "document"
	BundleTypeSearchset  = "searchset"
)

// DecodeBundle parses raw JSON into a Bundle resource.
func DecodeBundle(data []byte) (Resource, error) {
	var bundle Resource
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if ResourceType(bundle) != "Bundle" {
		return nil, ErrInvalidBundle
	}
	return bundle, nil
}

// BundleResources returns the resources carried by the entries of bundle in
// entry order. Entries without a resource are skipped.
func BundleResources(bundle Resource) ([]Resource, error) {
	if ResourceType(bundle) != "Bundle" {
		return nil, ErrInvalidBundle
	}
	entries := GetMaps(bundle, "entry")
	resources := make([]Resource, 0, len(entries))
	for _, entry := range entries {
		if r := GetMap(entry, "resource"); r != nil && ResourceType(r) != "" {
			resources = append(resources, r)
		}
	}
	return resources, nil
}

// FullURL builds the fullUrl for a bundle entry. An empty base URL falls
// back to the relative reference.
func FullURL(baseURL string, r Resource) string {
	ref := Key(r)
	if ref == "" {
		return ""
	}
	if baseURL == "" {
		return ref
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + ref
}

// NewBundleEntry wraps r in a bundle entry with a fullUrl.
func NewBundleEntry(baseURL string, r Resource) map[string]interface{} {
	entry := map[string]interface{}{"resource": r}
	if u := FullURL(baseURL, r); u != "" {
		entry["fullUrl"] = u
	}
	return entry
}
