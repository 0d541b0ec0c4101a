package cmd

import "fmt"

// consoleWriter global variable used to print output to console,
// used for capturing console output in tests
var consoleWriter consoleWrapper = &stdoutWrapper{}

type (
	consoleWrapper interface {
		Println(a ...any)
		Printf(format string, a ...any)
	}

	stdoutWrapper struct{}
)

func (w *stdoutWrapper) Println(a ...any) {
	fmt.Println(a...)
}

func (w *stdoutWrapper) Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}
