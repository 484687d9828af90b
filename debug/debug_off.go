//go:build !debug

// Package debug provides invariant assertions that cost nothing in
// production builds and are only compiled in with -tags debug.
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertFunc(_ func() bool, _ ...any) {}
