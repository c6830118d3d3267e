package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
)

type VersionUseCase struct {
	uc *UseCases
}

// rootUpdateAttempts bounds retries when the root case changes status during allocation
const rootUpdateAttempts = 5

// CreateFollowUp creates the next version of the chain holding parentID. The new case is a
// draft copy of the parent; edit is applied to the copy before it is stored.
func (v *VersionUseCase) CreateFollowUp(ctx context.Context, parentID model.CaseID, edit func(c *model.Case) error) (*model.Case, error) {
	return v.createVersion(ctx, parentID, types.FollowupTypeFollowUp, func(c *model.Case) error {
		if edit != nil {
			return edit(c)
		}
		return nil
	})
}

// Nullify creates a nullification version of the chain holding parentID
func (v *VersionUseCase) Nullify(ctx context.Context, parentID model.CaseID, reason string) (*model.Case, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, goerr.Wrap(ErrNullificationReason, "cannot nullify case", goerr.V(CaseIDKey, parentID))
	}

	return v.createVersion(ctx, parentID, types.FollowupTypeNullification, func(c *model.Case) error {
		c.IsNullified = true
		c.NullificationReason = reason
		return nil
	})
}

func (v *VersionUseCase) createVersion(ctx context.Context, parentID model.CaseID, followupType types.FollowupType, edit func(c *model.Case) error) (*model.Case, error) {
	parent, err := v.uc.getCase(ctx, parentID)
	if err != nil {
		return nil, err
	}

	chain, err := v.Chain(ctx, parentID)
	if err != nil {
		return nil, err
	}
	root := chain[0]

	maxVersion := 0
	for _, c := range chain {
		if c.IsNullified {
			return nil, goerr.Wrap(ErrAlreadyNullified, "chain already has a nullification",
				goerr.V(CaseIDKey, parentID), goerr.V("nullified_case_id", c.ID))
		}
		maxVersion = max(maxVersion, c.Version)
	}

	next := parent.Clone()
	next.ID = ""
	next.Status = types.CaseStatusDraft
	next.WorkflowStatus = types.WorkflowStatusDataEntry
	next.ParentCaseID = parent.ID
	next.FollowupType = followupType
	next.IsNullified = false
	next.NullificationReason = ""
	next.ChainVersion = 0
	next.ChainNullified = false
	next.ResetSubmissionTracking()
	clearChildIDs(next)

	if err := edit(next); err != nil {
		return nil, err
	}
	next.ApplyDefaults()

	nullify := followupType == types.FollowupTypeNullification
	version, err := v.allocate(ctx, root.ID, maxVersion, nullify)
	if err != nil {
		return nil, err
	}
	next.Version = version

	created, err := v.uc.repo.Case().Create(ctx, next)
	if err != nil {
		v.release(ctx, root.ID, version, nullify)
		return nil, goerr.Wrap(err, "failed to create case version", goerr.V(CaseIDKey, parentID))
	}

	event, message := types.HistoryEventFollowupCreated, "follow-up version created"
	if followupType == types.FollowupTypeNullification {
		event, message = types.HistoryEventNullified, "nullification version created: "+created.NullificationReason
	}

	v.uc.record(ctx, &model.HistoryEntry{
		CaseID:   created.ID,
		Event:    event,
		ToStatus: string(created.Status),
		Message:  message,
		Details: map[string]string{
			"parent_case_id": string(parent.ID),
			"version":        strconv.Itoa(created.Version),
		},
	})
	return created, nil
}

// allocate reserves the next version number of the chain on its root case. The root is
// updated under its status guard, so allocations from any process are serialized by the
// repository. A nullification closes the chain for further allocations.
func (v *VersionUseCase) allocate(ctx context.Context, rootID model.CaseID, chainMax int, nullify bool) (int, error) {
	var version int
	err := v.updateRoot(ctx, rootID, func(root *model.Case) error {
		if root.ChainNullified {
			return goerr.Wrap(ErrAlreadyNullified, "chain already has a nullification", goerr.V(CaseIDKey, rootID))
		}
		version = max(root.ChainVersion, chainMax) + 1
		root.ChainVersion = version
		root.ChainNullified = nullify
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// release returns an allocation whose case could not be stored. Later allocations are kept.
func (v *VersionUseCase) release(ctx context.Context, rootID model.CaseID, version int, nullify bool) {
	err := v.updateRoot(context.WithoutCancel(ctx), rootID, func(root *model.Case) error {
		if root.ChainVersion == version {
			root.ChainVersion = version - 1
		}
		if nullify {
			root.ChainNullified = false
		}
		return nil
	})
	if err != nil {
		errutil.Handle(ctx, err, "failed to release version allocation")
	}
}

func (v *VersionUseCase) updateRoot(ctx context.Context, rootID model.CaseID, mutate interfaces.CaseMutator) error {
	for range rootUpdateAttempts {
		root, err := v.uc.getCase(ctx, rootID)
		if err != nil {
			return err
		}
		_, err = v.uc.repo.Case().UpdateStatus(ctx, rootID, root.Status, root.Status, mutate)
		if errors.Is(err, interfaces.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return goerr.Wrap(err, "failed to update chain root", goerr.V(CaseIDKey, rootID))
		}
		return nil
	}
	return goerr.Wrap(ErrStatusConflict, "chain root kept changing status", goerr.V(CaseIDKey, rootID))
}

// Chain returns every case of the version chain holding id: the root found by following
// parents, and all of its transitive descendants.
func (v *VersionUseCase) Chain(ctx context.Context, id model.CaseID) ([]*model.Case, error) {
	root, err := v.uc.getCase(ctx, id)
	if err != nil {
		return nil, err
	}

	visited := map[model.CaseID]bool{root.ID: true}
	for !root.IsRoot() {
		parent, err := v.uc.getCase(ctx, root.ParentCaseID)
		if err != nil {
			return nil, goerr.Wrap(err, "broken version chain", goerr.V(CaseIDKey, root.ID))
		}
		if visited[parent.ID] {
			return nil, goerr.New("version chain has a cycle", goerr.V(CaseIDKey, parent.ID))
		}
		visited[parent.ID] = true
		root = parent
	}

	chain := []*model.Case{root}
	seen := map[model.CaseID]bool{root.ID: true}
	queue := []model.CaseID{root.ID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := v.uc.repo.Case().ListByParent(ctx, current)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list follow-ups", goerr.V(CaseIDKey, current))
		}
		for _, child := range children {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			chain = append(chain, child)
			queue = append(queue, child.ID)
		}
	}
	return chain, nil
}

// clearChildIDs drops the identifiers of copied child records so that fresh ones are assigned
func clearChildIDs(c *model.Case) {
	for i := range c.Reporters {
		c.Reporters[i].ID = ""
	}
	for i := range c.Reactions {
		c.Reactions[i].ID = ""
	}
	for i := range c.Drugs {
		c.Drugs[i].ID = ""
	}
}
