package handler

import (
	"fmt"
	"net/http"
	"time"
)

// GenerateETag generates an ETag for a resource based on its ID and a
// timestamp. Format: "<resource_type>-<id>-<unix_nano>"
func GenerateETag(resourceType, id string, at time.Time) string {
	return fmt.Sprintf(`"%s-%s-%d"`, resourceType, id, at.UnixNano())
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
}

// NotModified reports whether the If-None-Match header matches etag.
func NotModified(r *http.Request, etag string) bool {
	inm := r.Header.Get("If-None-Match")
	return inm != "" && (inm == etag || inm == "*")
}
