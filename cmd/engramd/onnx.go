//go:build onnx

package main

import (
	"github.com/becomeliminal/engram/config"
	"github.com/becomeliminal/engram/memory"
	"github.com/becomeliminal/engram/memory/embedder/onnx"
)

func newONNXEmbedder(cfg config.Embedder) (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:         cfg.ModelPath,
		TokenizerPath:     cfg.TokenizerPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		Dimensions:        cfg.Dimensions,
	})
}
