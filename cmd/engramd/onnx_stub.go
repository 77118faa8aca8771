//go:build !onnx

package main

import (
	"fmt"

	"github.com/becomeliminal/engram/config"
	"github.com/becomeliminal/engram/memory"
)

func newONNXEmbedder(config.Embedder) (memory.Embedder, error) {
	return nil, fmt.Errorf("onnx embedder requires building with -tags onnx")
}
