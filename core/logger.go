package core

// Logger is any service that can log app events.
// args may contain errors, a map[string]interface{} of extra fields and the ctx user.User.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
