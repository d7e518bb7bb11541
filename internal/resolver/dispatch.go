package resolver

import (
	"fmt"

	"blaze/internal/domain"
)

// errUnsupportedUpdate is returned by resolvers whose kind never supports
// incremental Update (spec.md open question, decided in SPEC_FULL.md
// §6(a)); Manager never actually calls Update on these since
// SupportsUpdate reports false, but the method still needs a body.
type errUnsupportedUpdate struct {
	location domain.LocationKind
}

func (e errUnsupportedUpdate) Error() string {
	return fmt.Sprintf("resolver: update is not supported for location kind %v", e.location)
}

// resolverFor is grounded on original_source/core/src/executors/resolve/
// resolver.rs's resolver_for_location dispatch table. LocationStd is
// handled upstream in Manager.resolveGroup and never reaches here.
func resolverFor(loc domain.LocationKind, root string) (Resolver, error) {
	switch loc {
	case domain.LocationFile:
		return fsResolver{}, nil
	case domain.LocationGit, domain.LocationHTTPGit, domain.LocationSSHGit:
		return gitResolver{root: root}, nil
	case domain.LocationTarballHTTP:
		return tarballResolver{root: root}, nil
	case domain.LocationNpm:
		return npmResolver(root), nil
	case domain.LocationCargo:
		return cargoResolver(root), nil
	default:
		return nil, fmt.Errorf("resolver: unsupported location kind %v", loc)
	}
}
