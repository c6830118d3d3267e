package memory

import (
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory keeps every entity in process memory. Status transitions are serialized by a mutex
// per entity kind.
type Memory struct {
	caseRepo *caseRepository
	batch    *batchRepository
	attempt  *attemptRepository
	history  *historyRepository
	sequence *sequenceRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		caseRepo: newCaseRepository(),
		batch:    newBatchRepository(),
		attempt:  newAttemptRepository(),
		history:  newHistoryRepository(),
		sequence: newSequenceRepository(),
	}
}

func (m *Memory) Case() interfaces.CaseRepository {
	return m.caseRepo
}

func (m *Memory) Batch() interfaces.BatchRepository {
	return m.batch
}

func (m *Memory) Attempt() interfaces.AttemptRepository {
	return m.attempt
}

func (m *Memory) History() interfaces.HistoryRepository {
	return m.history
}

func (m *Memory) Sequence() interfaces.SequenceRepository {
	return m.sequence
}
