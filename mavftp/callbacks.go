package mavftp

// Callbacks provides hooks for transfer events. All callbacks are optional -
// nil callbacks use default behavior.
//
// Completion is not a callback concern: every command reports its outcome
// through its return value, exactly once.
type Callbacks struct {
	// OnProgress is called periodically during a transfer.
	// name: the remote path being transferred
	// transferred: bytes moved so far
	// total: total bytes to move (0 if unknown)
	// rate: transfer rate in bytes per second
	OnProgress func(name string, transferred, total int64, rate float64)
}

// defaultCallbacks returns a set of callbacks with default implementations.
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnProgress: func(string, int64, int64, float64) {},
	}
}

// mergeCallbacks merges user callbacks with defaults.
// User callbacks override defaults, nil callbacks use defaults.
func mergeCallbacks(user *Callbacks) *Callbacks {
	result := defaultCallbacks()
	if user == nil {
		return result
	}
	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	}
	return result
}
