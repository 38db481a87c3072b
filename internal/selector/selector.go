// Package selector turns the active model list into an ordered candidate
// list for one task.
package selector

import (
	"log/slog"
	"sort"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// Selector filters and orders candidates. It is stateless; the active
// model list comes from the registry accessor on every call.
type Selector struct {
	logger *slog.Logger
}

// New creates a selector.
func New(logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{logger: logger}
}

// Select returns the ordered candidate list for a task:
//
//  1. keep models whose capabilities cover the task's requirement and
//     whose allow-list admits the task,
//  2. narrow to caller preferences when they match anything (preferences
//     that match nothing fall back to the full set with a warning),
//  3. order by priority ascending, then model name ascending.
//
// An empty result is a model_selection_error.
func (s *Selector) Select(models []types.ModelConfig, req *types.AIRequest) ([]types.ModelConfig, error) {
	required := types.RequiredCapabilities(req.TaskType)

	eligible := make([]types.ModelConfig, 0, len(models))
	for _, m := range models {
		if !m.IsActive || !m.SupportsTask(req.TaskType) {
			continue
		}
		if !hasAll(&m, required) {
			continue
		}
		eligible = append(eligible, m)
	}

	if len(eligible) == 0 {
		return nil, gwerrors.NewModelSelectionError(
			"no active model can serve task " + string(req.TaskType))
	}

	if req.PreferredModel != "" || req.PreferredProvider != "" {
		preferred := make([]types.ModelConfig, 0, len(eligible))
		for _, m := range eligible {
			if req.PreferredModel != "" && m.ModelName != req.PreferredModel {
				continue
			}
			if req.PreferredProvider != "" && m.Provider != req.PreferredProvider {
				continue
			}
			preferred = append(preferred, m)
		}
		if len(preferred) > 0 {
			eligible = preferred
		} else {
			s.logger.Warn("preferred model unavailable, falling back to full candidate set",
				"task", req.TaskType,
				"preferred_model", req.PreferredModel,
				"preferred_provider", req.PreferredProvider,
			)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].ModelName < eligible[j].ModelName
	})
	return eligible, nil
}

func hasAll(m *types.ModelConfig, required []types.Capability) bool {
	for _, c := range required {
		if !m.HasCapability(c) {
			return false
		}
	}
	return true
}
