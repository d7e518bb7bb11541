package domain

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// LocationKind discriminates an ExecutorReference's resolution strategy
// (spec.md §3, §4.G).
type LocationKind int

const (
	LocationStd LocationKind = iota
	LocationFile
	LocationHTTPGit
	LocationSSHGit
	LocationTarballHTTP
	LocationGit
	LocationNpm
	LocationCargo
)

// ExecutorReference is a URL plus the discriminated Location fields that
// affect identity (spec.md §3).
type ExecutorReference struct {
	URL      string
	Location LocationKind

	// Checkout selects a branch/tag/revision for the git family.
	Checkout string

	// Authentication is opaque identity material (password, token,
	// private-key fingerprint, ...); only its presence/value matters for
	// package-id purposes, never its semantics here.
	Authentication string

	// Headers are transport headers for TarballOverHttp.
	Headers map[string]string

	// Version pins an Npm/Cargo package version.
	Version string

	// Token authenticates an Npm/Cargo registry fetch.
	Token string
}

// ParseExecutorURL parses a raw executor URL into its scheme-discriminated
// Location, per spec.md §6. Unknown schemes are rejected.
func ParseExecutorURL(raw string) (ExecutorReference, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ExecutorReference{}, fmt.Errorf("bad url %q: %w", raw, err)
	}
	ref := ExecutorReference{URL: raw}
	switch u.Scheme {
	case "std":
		ref.Location = LocationStd
	case "file":
		ref.Location = LocationFile
	case "ssh":
		ref.Location = LocationSSHGit
	case "git":
		ref.Location = LocationGit
	case "npm":
		ref.Location = LocationNpm
	case "cargo":
		ref.Location = LocationCargo
	case "http", "https":
		switch strings.ToLower(u.Query().Get("format")) {
		case "git":
			ref.Location = LocationHTTPGit
		case "tarball", "":
			ref.Location = LocationTarballHTTP
		default:
			return ExecutorReference{}, fmt.Errorf("bad url %q: unsupported format %q", raw, u.Query().Get("format"))
		}
	default:
		return ExecutorReference{}, fmt.Errorf("bad url %q: unknown scheme %q", raw, u.Scheme)
	}
	return ref, nil
}

// PackageID computes the 64-bit xxh3 fingerprint identifying the resolved
// artifact this reference points to (spec.md §3, §4.G). Two references
// with the same PackageID must share resolver storage.
//
// Only the identity-affecting fields per location kind are mixed in:
//   - LocalFileSystem: URL only.
//   - Git family:      URL + checkout + authentication.
//   - TarballOverHttp:  URL + headers + authentication.
//   - Npm/Cargo:        URL + version + token.
func (r ExecutorReference) PackageID() uint64 {
	var b strings.Builder
	b.WriteString(r.URL)
	b.WriteByte(0)

	switch r.Location {
	case LocationFile, LocationStd:
		// URL only.
	case LocationHTTPGit, LocationSSHGit, LocationGit:
		b.WriteString(r.Checkout)
		b.WriteByte(0)
		b.WriteString(r.Authentication)
	case LocationTarballHTTP:
		b.WriteString(r.Authentication)
		b.WriteByte(0)
		for _, k := range sortedKeys(r.Headers) {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(r.Headers[k])
			b.WriteByte(';')
		}
	case LocationNpm, LocationCargo:
		b.WriteString(r.Version)
		b.WriteByte(0)
		b.WriteString(r.Token)
	}

	return xxh3.HashString(b.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
