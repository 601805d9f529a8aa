// Package assets provides the static files served next to the API.
package assets

import "embed"

// Files contains the embedded images, rooted so that images/x.svg is served
// at /images/x.svg.
//
//go:embed images/*
var Files embed.FS
