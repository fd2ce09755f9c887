//go:build !embed
// +build !embed

package main

import "embed"

const embeddedModelRoot = "model"

// Empty without the embed tag; the model is read from labeling.model_dir.
var modelFiles embed.FS
