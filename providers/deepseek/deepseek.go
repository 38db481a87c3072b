// Package deepseek provides the DeepSeek adapter. DeepSeek exposes an
// OpenAI-compatible chat API without vision support, so the adapter is a
// thin specialization of the compatible base.
package deepseek

import (
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/providers/openaicompat"
)

const (
	ProviderName   = "deepseek"
	DefaultBaseURL = "https://api.deepseek.com"
)

var info = openaicompat.Info{
	Name:           ProviderName,
	DefaultBaseURL: DefaultBaseURL,
}

// NewFromConfig builds a DeepSeek adapter from a resolved configuration.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	return openaicompat.New(info, cfg)
}
