//go:build embed
// +build embed

package main

import "embed"

const embeddedModelRoot = "model"

// Embed the exported token classifier (model.onnx, tokenizer.json, config.json)
//
//go:embed model/*
var modelFiles embed.FS
