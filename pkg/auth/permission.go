package auth

import (
	"slices"
	"strings"

	"github.com/StricklySoft/paragate/pkg/models"
)

// Wildcard matches any subject, any resource or any method in a policy.
const Wildcard = "*"

// IsWriteMethod reports whether method mutates data. Read-only tenants
// reject these on the app branch.
func IsWriteMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	default:
		return false
	}
}

// IsAllowed decides whether userID may call method on resource under
// policy. Grants for userID and for [Wildcard] are both considered; the
// default is deny.
//
// Resource patterns are matched after trimming slashes:
//
//	"*"        any resource
//	"items"    exactly "items"
//	"items/*"  anything strictly below "items", e.g. "items/42/tags"
//
// A method list allows method when it contains it (case-insensitive) or
// contains [Wildcard].
func IsAllowed(policy models.Policy, userID, resource, method string) bool {
	if userID == "" || len(policy) == 0 {
		return false
	}
	resource = strings.Trim(resource, "/")
	method = strings.ToUpper(method)

	for _, subject := range []string{userID, Wildcard} {
		for pattern, methods := range policy[subject] {
			if matchResource(pattern, resource) && allowsMethod(methods, method) {
				return true
			}
		}
	}
	return false
}

func matchResource(pattern, resource string) bool {
	pattern = strings.Trim(pattern, "/")
	switch {
	case pattern == Wildcard:
		return true
	case strings.HasSuffix(pattern, "/"+Wildcard):
		prefix := strings.TrimSuffix(pattern, Wildcard)
		return len(resource) > len(prefix) && strings.HasPrefix(resource, prefix)
	default:
		return pattern == resource
	}
}

func allowsMethod(methods []string, method string) bool {
	return slices.ContainsFunc(methods, func(m string) bool {
		m = strings.ToUpper(strings.TrimSpace(m))
		return m == Wildcard || m == method
	})
}

// HasDotSegment reports whether path has a "." or ".." segment. Such a
// path names a different resource once resolved, so grants are never
// matched against it. path is the decoded form, which also catches
// percent-encoded dots.
func HasDotSegment(path string) bool {
	for seg := range strings.SplitSeq(path, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// ResourceName strips apiPath and surrounding slashes from path:
// ResourceName("/v1/items/42", "/v1") is "items/42". A path outside
// apiPath is only trimmed of slashes. Callers reject paths with dot
// segments first (see [HasDotSegment]).
func ResourceName(path, apiPath string) string {
	apiPath = "/" + strings.Trim(apiPath, "/")
	if apiPath != "/" && (path == apiPath || strings.HasPrefix(path, apiPath+"/")) {
		path = strings.TrimPrefix(path, apiPath)
	}
	return strings.Trim(path, "/")
}
