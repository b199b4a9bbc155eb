package spawner

import "fmt"

// SpawnError indicates the companion process could not be created at all:
// the executable failed to launch or its log file could not be opened.
type SpawnError struct {
	Udid string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn companion for %q: %v", e.Udid, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// HandshakeError indicates the companion launched but never produced a
// valid handshake line containing its bound port.
type HandshakeError struct {
	Udid   string
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("companion handshake failed for %q: %s: %v", e.Udid, e.Reason, e.Err)
	}
	return fmt.Sprintf("companion handshake failed for %q: %s", e.Udid, e.Reason)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
