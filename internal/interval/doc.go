// Package interval merges millisecond time ranges separated by small gaps
// into a minimal covering set.
package interval
