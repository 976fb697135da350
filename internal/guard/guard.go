// Package guard holds in-process protections for outbound calls and public endpoints.
package guard

// Result is the outcome of a guard check.
type Result struct {
	Allowed bool
	Reason  string
	Guard   string
}

func allow() Result { return Result{Allowed: true} }
