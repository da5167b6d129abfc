package id

import (
	"strings"

	"github.com/google/uuid"
)

// DOIProxy is the resolver prefix carried by persistent identifiers.
const DOIProxy = "https://doi.org/"

func New() string {
	return uuid.NewString()
}

// Handle returns the identifier with the DOI resolver proxy removed.
func Handle(recordID string) string {
	return strings.TrimPrefix(recordID, DOIProxy)
}

// Slug strips "https://doi.org/<prefix>/" from the front of recordID. An id
// that does not carry that exact prefix is returned unchanged.
func Slug(recordID, prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return recordID
	}
	return strings.TrimPrefix(recordID, DOIProxy+prefix+"/")
}
