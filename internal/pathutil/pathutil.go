// Package pathutil normalizes resource paths used to identify namespaces,
// layers, localities, and geographies.
package pathutil

import (
	"strings"

	"github.com/geodepot/geodepot/internal/apierror"
)

// These substrings are most likely to appear in the resource_id part of a
// path (typically the last segment). Rejecting them protects downstream
// tooling and guards against injection.
var invalidPathSubstrings = []string{"..", " ", ";"}

// Normalize removes leading, trailing, and duplicate slashes and lowercases
// every segment. Paths whose trailing segment is case-sensitive (e.g. GEOID
// paths) should use NormalizeCaseSensitive instead.
func Normalize(path string) (string, error) {
	segments, err := split(path, false)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "/"), nil
}

// NormalizeCaseSensitive normalizes like Normalize but preserves the case of
// the final segment.
func NormalizeCaseSensitive(path string) (string, error) {
	segments, err := split(path, true)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "/"), nil
}

// NormalizeExact normalizes and requires the path to have exactly n segments.
func NormalizeExact(path string, n int, caseSensitive bool) (string, error) {
	segments, err := split(path, caseSensitive)
	if err != nil {
		return "", err
	}
	if len(segments) != n {
		return "", apierror.Unprocessable(
			"invalid path %q: has %d segment(s), expected %d", path, len(segments), n)
	}
	return strings.Join(segments, "/"), nil
}

func split(path string, caseSensitiveTail bool) ([]string, error) {
	for _, sub := range invalidPathSubstrings {
		if strings.Contains(path, sub) {
			return nil, apierror.Unprocessable(
				"invalid path %q: remove or replace the substring %q wherever it occurs", path, sub)
		}
	}

	raw := strings.Split(strings.TrimSpace(path), "/")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, apierror.Unprocessable("invalid path %q: empty", path)
	}

	for i, seg := range segments {
		if caseSensitiveTail && i == len(segments)-1 {
			continue
		}
		segments[i] = strings.ToLower(seg)
	}
	return segments, nil
}
