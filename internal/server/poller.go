package server

const (
	listenerToken = -1
	wakeToken     = -2
)

// poller is the readiness-multiplexing primitive behind the accept loop.
type poller interface {
	// Add registers fd for read readiness under token.
	Add(fd, token int) error
	// Remove unregisters fd. It must be called before fd is closed.
	Remove(fd int) error
	// Wait appends the tokens of ready registrations to tokens.
	Wait(tokens []int) ([]int, error)
	// Wake makes a blocked Wait return with wakeToken.
	Wake() error
	Close() error
}
