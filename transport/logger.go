package transport

import "log"

// Logger is the minimal logging contract the core writes to.
type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

// NopLogger discards everything; it is the Cluster default so a driver
// embedded in another program stays silent unless a Logger is configured.
type NopLogger struct{}

func (NopLogger) Print(_ ...any)            {}
func (NopLogger) Printf(_ string, _ ...any) {}
func (NopLogger) Println(_ ...any)          {}

// StdLogger writes through the standard library's log package.
type StdLogger struct{}

func (StdLogger) Print(v ...any)                 { log.Print(v...) }
func (StdLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (StdLogger) Println(v ...any)               { log.Println(v...) }
