package events

// Broadcast is emitted after watchers were re-read following a store
// change.
type Broadcast struct {
	Changed  int
	Watchers int
	Notified int
}

// OptimisticPush is emitted when an optimistic layer is applied.
type OptimisticPush struct {
	LayerID       string
	OperationName string
}

// OptimisticSettle is emitted when an optimistic layer is removed, either
// replaced by the server result or rolled back after a failure.
type OptimisticSettle struct {
	LayerID    string
	RolledBack bool
}

// StoreInconsistency is emitted when a read meets a reference to a record
// that does not exist.
type StoreInconsistency struct {
	ID   string
	Path []string
}
