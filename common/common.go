// Package common holds service metadata and logger setup shared by all
// binaries and packages.
package common

// PackageName is used as the metrics namespace and the default service tag.
const PackageName = "vetkd_access_backend"

// Version is set at build time via -ldflags.
var Version = "dev"
