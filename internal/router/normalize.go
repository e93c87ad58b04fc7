package router

import (
	"net/url"
	"strings"
)

// Normalize applies the path normalization steps of spec §4.D: collapse
// repeated slashes, strip a trailing slash, split on "/", resolve "."
// and ".." segments (compared literally, before decoding — so a
// percent-encoded ".." is never mistaken for a dot-segment), and finally
// percent-decode each remaining segment. It returns the decoded segments
// and the raw (still percent-encoded) counterparts in lock-step, plus the
// renormalized string form (always "/"-prefixed, "/" for the root).
func Normalize(path string) (decoded, raw []string, normalized string, err error) {
	collapsed := collapseSlashes(path)
	trimmed := strings.TrimSuffix(collapsed, "/")
	trimmed = strings.TrimPrefix(trimmed, "/")

	var parts []string
	if trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}

	resolved := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case ".":
			continue
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, p)
		}
	}

	decodedSegs := make([]string, len(resolved))
	for i, seg := range resolved {
		d, derr := url.PathUnescape(seg)
		if derr != nil {
			return nil, nil, "", derr
		}
		decodedSegs[i] = d
	}

	return decodedSegs, resolved, normalizedString(resolved), nil
}

func normalizedString(rawSegs []string) string {
	if len(rawSegs) == 0 {
		return "/"
	}
	return "/" + strings.Join(rawSegs, "/")
}

func collapseSlashes(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
