package interfaces

// Repository defines the interface for data persistence
type Repository interface {
	Case() CaseRepository
	Batch() BatchRepository
	Attempt() AttemptRepository
	History() HistoryRepository
	Sequence() SequenceRepository
}
