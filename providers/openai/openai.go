// Package openai provides the OpenAI adapter, a direct use of the
// OpenAI-compatible base.
package openai

import (
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/providers/openaicompat"
)

const (
	ProviderName   = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
)

var info = openaicompat.Info{
	Name:             ProviderName,
	DefaultBaseURL:   DefaultBaseURL,
	SupportsImageURL: true,
}

// NewFromConfig builds an OpenAI adapter from a resolved configuration.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	return openaicompat.New(info, cfg)
}
