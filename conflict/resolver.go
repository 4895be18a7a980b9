package conflict

import (
	"context"
	"fmt"

	"github.com/tonimelisma/synckit/entity"
)

// Resolver decides the outcome for a classified conflict (spec §4.3
// "Resolver interface"). local or remote may be nil depending on Type.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, local, remote entity.Entity, cctx Context) (Resolution, error)
}

// LastWriteWinsResolver picks the side with the higher version, breaking
// ties by later modifiedAt and final ties in favor of remote (spec §4.3
// "LastWriteWins"). It is antisymmetric in (local, remote) except when the
// two sides are exactly equal (spec §8 P6).
type LastWriteWinsResolver struct{}

func (LastWriteWinsResolver) Name() string { return "last_write_wins" }

func (LastWriteWinsResolver) Resolve(_ context.Context, local, remote entity.Entity, _ Context) (Resolution, error) {
	if local == nil && remote == nil {
		return Resolution{Strategy: StrategyAbort, Message: "last_write_wins: no candidate entity on either side"}, nil
	}

	if local == nil {
		return Resolution{Strategy: StrategyUseRemote, Resolved: remote}, nil
	}

	if remote == nil {
		return Resolution{Strategy: StrategyUseLocal, Resolved: local}, nil
	}

	if local.Version() > remote.Version() {
		return Resolution{Strategy: StrategyUseLocal, Resolved: local}, nil
	}

	if remote.Version() > local.Version() {
		return Resolution{Strategy: StrategyUseRemote, Resolved: remote}, nil
	}

	if local.ModifiedAt().After(remote.ModifiedAt()) {
		return Resolution{Strategy: StrategyUseLocal, Resolved: local}, nil
	}

	// Equal version and modifiedAt≤: final tie goes to remote.
	return Resolution{Strategy: StrategyUseRemote, Resolved: remote}, nil
}

// LocalPriorityResolver always picks local when present, else remote
// (spec §4.3 "LocalPriority").
type LocalPriorityResolver struct{}

func (LocalPriorityResolver) Name() string { return "local_priority" }

func (LocalPriorityResolver) Resolve(_ context.Context, local, remote entity.Entity, _ Context) (Resolution, error) {
	if local != nil {
		return Resolution{Strategy: StrategyUseLocal, Resolved: local}, nil
	}

	if remote != nil {
		return Resolution{Strategy: StrategyUseRemote, Resolved: remote}, nil
	}

	return Resolution{Strategy: StrategyAbort, Message: "local_priority: no candidate entity on either side"}, nil
}

// RemotePriorityResolver always picks remote when present, else local
// (spec §4.3 "RemotePriority").
type RemotePriorityResolver struct{}

func (RemotePriorityResolver) Name() string { return "remote_priority" }

func (RemotePriorityResolver) Resolve(_ context.Context, local, remote entity.Entity, _ Context) (Resolution, error) {
	if remote != nil {
		return Resolution{Strategy: StrategyUseRemote, Resolved: remote}, nil
	}

	if local != nil {
		return Resolution{Strategy: StrategyUseLocal, Resolved: local}, nil
	}

	return Resolution{Strategy: StrategyAbort, Message: "remote_priority: no candidate entity on either side"}, nil
}

// MergeFunc produces a merged entity from both sides, or reports that a
// merge is impossible.
type MergeFunc func(ctx context.Context, local, remote entity.Entity, cctx Context) (entity.Entity, error)

// ErrMergeImpossible is returned by a MergeFunc to signal the merge
// pipeline should abort rather than treat the error as transient.
var ErrMergeImpossible = fmt.Errorf("conflict: merge impossible")

// MergeResolver delegates to a caller-supplied MergeFunc; if it fails, the
// conflict is aborted (spec §4.3 "Merge (abstract)").
type MergeResolver struct {
	Name_ string
	Func  MergeFunc
}

// NewMergeResolver builds a MergeResolver named name backed by fn.
func NewMergeResolver(name string, fn MergeFunc) *MergeResolver {
	return &MergeResolver{Name_: name, Func: fn}
}

func (m *MergeResolver) Name() string {
	if m.Name_ == "" {
		return "merge"
	}

	return m.Name_
}

func (m *MergeResolver) Resolve(ctx context.Context, local, remote entity.Entity, cctx Context) (Resolution, error) {
	merged, err := m.Func(ctx, local, remote, cctx)
	if err != nil {
		return Resolution{Strategy: StrategyAbort, Message: fmt.Sprintf("merge: %v", err)}, nil
	}

	return Resolution{Strategy: StrategyMerge, Resolved: merged}, nil
}

// PromptAnswer is the caller's decision for an ask_user escalation.
type PromptAnswer string

// Recognized prompt answers (spec §4.3 "UserPrompt").
const (
	AnswerUseLocal  PromptAnswer = "useLocal"
	AnswerUseRemote PromptAnswer = "useRemote"
	AnswerMerge     PromptAnswer = "merge"
	AnswerAbort     PromptAnswer = "abort"
)

// PromptFunc asks an external caller (typically a UI) how to resolve a
// conflict, given both sides.
type PromptFunc func(ctx context.Context, local, remote entity.Entity, cctx Context) (PromptAnswer, entity.Entity, error)

// UserPromptResolver calls an external prompt callback and maps its answer
// into a Resolution (spec §4.3 "UserPrompt").
type UserPromptResolver struct {
	Prompt PromptFunc
}

// NewUserPromptResolver builds a UserPromptResolver backed by prompt.
func NewUserPromptResolver(prompt PromptFunc) *UserPromptResolver {
	return &UserPromptResolver{Prompt: prompt}
}

func (UserPromptResolver) Name() string { return "user_prompt" }

func (r *UserPromptResolver) Resolve(ctx context.Context, local, remote entity.Entity, cctx Context) (Resolution, error) {
	answer, merged, err := r.Prompt(ctx, local, remote, cctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("conflict: user prompt: %w", err)
	}

	switch answer {
	case AnswerUseLocal:
		if local == nil {
			return Resolution{Strategy: StrategyAbort, Message: "user_prompt: useLocal requested but no local entity"}, nil
		}

		return Resolution{Strategy: StrategyUseLocal, Resolved: local}, nil
	case AnswerUseRemote:
		if remote == nil {
			return Resolution{Strategy: StrategyAbort, Message: "user_prompt: useRemote requested but no remote entity"}, nil
		}

		return Resolution{Strategy: StrategyUseRemote, Resolved: remote}, nil
	case AnswerMerge:
		if merged == nil {
			return Resolution{Strategy: StrategyAbort, Message: "user_prompt: merge requested but no merged entity supplied"}, nil
		}

		return Resolution{Strategy: StrategyMerge, Resolved: merged}, nil
	case AnswerAbort:
		return Resolution{Strategy: StrategyAbort, Message: "user_prompt: user chose to abort"}, nil
	default:
		return Resolution{Strategy: StrategyAbort, Message: fmt.Sprintf("user_prompt: unrecognized answer %q", answer)}, nil
	}
}

// AskUserResolver always escalates to ask_user, carrying both sides for the
// caller to surface as a ConflictDetected event (spec §4.3 "ask_user: pause
// the per-entity pipeline").
type AskUserResolver struct{}

func (AskUserResolver) Name() string { return "ask_user" }

func (AskUserResolver) Resolve(_ context.Context, _, _ entity.Entity, _ Context) (Resolution, error) {
	return Resolution{Strategy: StrategyAskUser, RequiresUserInput: true}, nil
}
