package ports

// Server is a long-running listener such as the HTTP API or the SMTP intake
type Server interface {
	// Start starts serving; it returns once the listener is running
	Start() error

	// Stop stops the server
	Stop() error
}
