package sqld

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/sipico/sqld-gateway/internal/errs"
)

var namespaceName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateNamespaceName checks a namespace (workspace) name against the
// characters sqld accepts.
func ValidateNamespaceName(name string) error {
	if !namespaceName.MatchString(name) {
		return errs.Invalid("namespace name %q must match %s", name, namespaceName.String())
	}
	return nil
}

// Namespace is a logical database hosted on a sqld server. Only the name is
// interpreted; every other attribute the server reports (block flags, size
// limits, durability mode...) is kept verbatim in Attributes and written
// back out unchanged.
type Namespace struct {
	Name       string
	Attributes json.RawMessage
}

// UnmarshalJSON keeps the raw object alongside the decoded name.
func (n *Namespace) UnmarshalJSON(data []byte) error {
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	n.Name = head.Name
	n.Attributes = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the server-reported object as received.
func (n Namespace) MarshalJSON() ([]byte, error) {
	if len(n.Attributes) > 0 {
		return n.Attributes, nil
	}
	return json.Marshal(struct {
		Name string `json:"name"`
	}{Name: n.Name})
}

// ListNamespacesResponse is the body of GET /v1/namespaces.
type ListNamespacesResponse struct {
	Namespaces []Namespace `json:"namespaces"`
}

// VersionInfo describes the build of a sqld server as reported by GET /version.
type VersionInfo struct {
	Version        *string `json:"version"`
	GitCommit      *string `json:"gitCommit"`
	BuildDate      *string `json:"buildDate"`
	IsAccessible   bool    `json:"isAccessible"`
	ResponseTimeMS int64   `json:"responseTimeMs"`
}

// versionPattern matches e.g. "sqld 0.21.9 (67f3ea5d 2023-10-26)".
var versionPattern = regexp.MustCompile(`sqld\s+([\d.]+)\s+\(([a-f0-9]+)\s+(\d{4}-\d{2}-\d{2})\)`)

// ParseVersion fills a VersionInfo from the text of GET /version.
// Strings that don't follow the sqld format are reported verbatim as the version.
func ParseVersion(text string, elapsed time.Duration) *VersionInfo {
	info := &VersionInfo{IsAccessible: true, ResponseTimeMS: elapsed.Milliseconds()}
	if m := versionPattern.FindStringSubmatch(text); m != nil {
		info.Version, info.GitCommit, info.BuildDate = &m[1], &m[2], &m[3]
		return info
	}
	if v := strings.TrimSpace(text); v != "" {
		info.Version = &v
	}
	return info
}
