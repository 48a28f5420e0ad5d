package secrets

import (
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Ref is a parsed secret reference:
//
//	secret://<name>[?version=<n>][&project=<id>]
//
// The legacy sm:// scheme is accepted and rewritten to secret://.
type Ref struct {
	Name    string
	Version string
	Project string
}

// ParseRef validates ref and fills the version default.
func ParseRef(ref string) (Ref, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	if ref == "" {
		return Ref{}, fmt.Errorf("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Ref{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return Ref{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Ref{}, fmt.Errorf("secrets: reference %q has no secret name", ref)
	}
	query := u.Query()
	parsed := Ref{
		Name:    name,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}
	if parsed.Version == "" {
		parsed.Version = latestVersion
	}
	return parsed, nil
}

// String is the canonical form without the project, used as the fallback-file key.
func (r Ref) String() string {
	if r.Version == latestVersion {
		return "secret://" + r.Name
	}
	return "secret://" + r.Name + "?version=" + r.Version
}

// resource is the Secret Manager version name. Empty when no project is known.
func (r Ref) resource(defaultProject string) string {
	project := r.Project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return ""
	}
	return "projects/" + project + "/secrets/" + r.Name + "/versions/" + r.Version
}

func (r Ref) cacheKey() string {
	return r.Project + "|" + r.String()
}
