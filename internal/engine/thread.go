package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/store"
)

// ThreadView is a conversation as a tree: the thread root, its main-line
// turns in creation order, and under each turn the retries forked from it.
type ThreadView struct {
	Thread ir.Run    `json:"thread"`
	Turns  []ir.Turn `json:"turns"`
}

// maxForkDepth bounds the sibling recursion against cyclic sibling links.
const maxForkDepth = 64

// ErrThreadNotFound is returned by Thread when no thread run has the id.
var ErrThreadNotFound = errors.New("thread not found")

// Thread reads the conversation rooted at threadID.
func (e *Engine) Thread(ctx context.Context, threadID string) (ThreadView, error) {
	id := ir.CoerceID(threadID)
	root, err := e.store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ThreadView{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return ThreadView{}, fmt.Errorf("read thread %s: %w", threadID, err)
	}
	if root.Type != ir.RunTypeThread {
		return ThreadView{}, fmt.Errorf("%w: %s is a %s run", ErrThreadNotFound, threadID, root.Type)
	}

	children, err := e.store.ChildRuns(ctx, id)
	if err != nil {
		return ThreadView{}, fmt.Errorf("read turns of %s: %w", threadID, err)
	}

	view := ThreadView{Thread: root, Turns: []ir.Turn{}}
	for _, run := range children {
		if !run.IsMainLine() {
			continue
		}
		turn, err := e.turnTree(ctx, run, 0)
		if err != nil {
			return ThreadView{}, err
		}
		view.Turns = append(view.Turns, turn)
	}
	return view, nil
}

func (e *Engine) turnTree(ctx context.Context, run ir.Run, depth int) (ir.Turn, error) {
	turn := ir.Turn{Run: run}
	if depth >= maxForkDepth {
		return turn, nil
	}
	forks, err := e.store.Siblings(ctx, run.ID)
	if err != nil {
		return ir.Turn{}, fmt.Errorf("read forks of %s: %w", run.ID, err)
	}
	for _, fork := range forks {
		child, err := e.turnTree(ctx, fork, depth+1)
		if err != nil {
			return ir.Turn{}, err
		}
		turn.Siblings = append(turn.Siblings, child)
	}
	return turn, nil
}
