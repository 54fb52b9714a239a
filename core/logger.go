package core

// Logger is implemented by every logging backend of the app.
// args may hold errors, maps of extra data or an Actor.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Actor is the authenticated admin behind a request.
type Actor struct {
	ID       string
	Username string
	Email    string
}

func (a Actor) String() string {
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}
