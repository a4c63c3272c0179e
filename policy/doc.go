// Package policy provides optional declarative rules applied when actions
// are created – for example to force human approval for selected action
// types or to block them outright.
package policy
