package caller

import "fmt"
import "runtime"

func Callerdump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}

// Kpanic reports a broken kernel invariant and halts the calling thread.
// these are never recoverable: continuing risks corrupting the run queues.
func Kpanic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("kernel panic: %s\n", msg)
	Callerdump(2)
	panic(msg)
}

// Kassert panics with msg unless ok
func Kassert(ok bool, format string, args ...interface{}) {
	if !ok {
		Kpanic(format, args...)
	}
}
