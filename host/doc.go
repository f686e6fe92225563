// Package host implements the PROS C API that robot programs import from
// the env namespace.
//
// A Host resolves a program's imports against its capability table: names
// it implements link to Go functions, known PROS names it does not
// implement link to stubs that fault when called, and anything else fails
// the load. Host functions run on the goroutine of the calling task while
// it holds the scheduler, and report soft failures the PROS way, through a
// sentinel return value and the calling task's errno.
package host
