// Package errors provides coded errors with severity and retry metadata so
// that callers can reason about failures without string matching.
package errors
