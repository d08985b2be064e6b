package model

// URL type names used by parsers when tagging URLs. The store maps these to
// URLType ids at config load.
const (
	URLTypeHomepage      = "homepage"
	URLTypeSource        = "source"
	URLTypeRepository    = "repository"
	URLTypeDocumentation = "documentation"
)

// Dependency type names, in priority order (highest first). When a source
// record declares the same (package, dependency) pair under several types,
// the earlier name in this list wins.
const (
	DepTypeRuntime       = "runtime"
	DepTypeBuild         = "build"
	DepTypeTest          = "test"
	DepTypeRecommended   = "recommended"
	DepTypeOptional      = "optional"
	DepTypeUsesFromMacos = "uses_from_macos"
)

// DepTypePriority ranks dependency type names; higher wins. Unknown names
// rank zero and lose to everything.
var DepTypePriority = map[string]int{
	DepTypeRuntime:       6,
	DepTypeBuild:         5,
	DepTypeTest:          4,
	DepTypeRecommended:   3,
	DepTypeOptional:      2,
	DepTypeUsesFromMacos: 1,
}

// NormalizedDep is one dependency declaration in a parsed snapshot,
// referencing the target by its ecosystem-local import id.
type NormalizedDep struct {
	ImportID string // dependency target
	TypeName string // one of the DepType* names
	Semver   string // version constraint as written upstream, may be empty
}

// NormalizedUser is an upstream account associated with a package.
type NormalizedUser struct {
	Username string
	Source   string // source name, e.g. "github"
}

// NormalizedPackage is the uniform record shape every parser produces.
// Upstream records vary wildly; this is the only shape the diff engine
// sees. URLs are keyed by URL type name and are raw (not yet canonical) —
// canonicalization happens in the diff.
type NormalizedPackage struct {
	ImportID     string
	Name         string
	Readme       string
	URLs         map[string][]string
	Dependencies []NormalizedDep
	Users        []NormalizedUser
}
