package auth

// Login outcomes reported to a Recorder.
const (
	LoginSucceeded      = "success"
	LoginUnknownUser    = "unknown_user"
	LoginBadCredentials = "bad_credentials"
	LoginError          = "error"
)

// Authentication failure reasons reported to a Recorder.
const (
	FailureInvalid = "invalid"
	FailureRevoked = "revoked"
	FailureExpired = "expired"
	FailureNoUser  = "no_user"
)

// Recorder receives security events for metrics and time-series export.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	LoginAttempt(outcome string)
	AuthFailure(reason string)
	PolicyDenial(action Action, reason string)
	TokenRevoked(tracked int)
	RevocationsSwept(removed, remaining int)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) LoginAttempt(string) {}
func (NopRecorder) AuthFailure(string) {}
func (NopRecorder) PolicyDenial(Action, string) {}
func (NopRecorder) TokenRevoked(int) {}
func (NopRecorder) RevocationsSwept(int, int) {}
