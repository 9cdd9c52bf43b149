// Package dedupe records one-shot actions so that each is performed at most
// once within a time window, even when several goroutines race to perform it.
package dedupe
