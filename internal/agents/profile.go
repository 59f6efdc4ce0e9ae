package agents

import (
	"context"
	"fmt"

	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// ProfileAgent fetches the structured shape of the source file from the
// file accessor. It performs no parsing itself.
type ProfileAgent struct {
	files types.FileAccessor
}

func NewProfileAgent(deps Deps) *ProfileAgent {
	return &ProfileAgent{files: deps.Files}
}

func (a *ProfileAgent) Stage() types.Stage { return types.StageProfile }

func (a *ProfileAgent) Execute(ctx context.Context, state types.RunState) (types.StageOutput, error) {
	profile, err := a.files.ReadProfile(ctx, state.FileID)
	if err != nil {
		if types.IsTransient(err) || types.IsFatal(err) || types.IsValidation(err) {
			return types.StageOutput{}, err
		}
		return types.StageOutput{}, types.Fatal(fmt.Errorf("profiling %s: %w", state.FileID, err))
	}
	if profile == nil {
		return types.StageOutput{}, types.Fatalf("accessor returned no profile for %s", state.FileID)
	}
	if len(profile.Columns) == 0 {
		return types.StageOutput{}, types.Fatal(types.Validationf("source %s has no columns", state.FileID))
	}

	logging.Agents("[Profile] file=%s rows=%d cols=%d", state.FileID, profile.RowCount, len(profile.Columns))
	return types.StageOutput{Profile: profile}, nil
}
