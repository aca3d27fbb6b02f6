// Package common holds identifiers shared by every arena binary.
package common

// PackageName is used as the metrics namespace and in log attributes.
const PackageName = "inbox-arena"

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"
