package session

// ConnectionChanged is emitted once per connectivity edge seen by Tick.
type ConnectionChanged struct {
	Connected bool
}

func (ConnectionChanged) EventName() string { return "connection_changed" }
