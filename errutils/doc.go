package errutils

// Package errutils provides a set of utilities for working with errors in Go.

// Example:
//
// The following example demonstrates how to use `MultiError` to collect errors from several steps:
//
//     package main
//
//     import (
//         "fmt"
//         "github.com/chronosched/chronosched/errutils"
//     )
//
//     func main() {
//         errs := errutils.NewMultiErr(firstStep())
//         errs.Add(secondStep())
//         if errs.HasErrors() {
//             fmt.Println(errs.Error())
//         }
//     }
//
// In the above example, `NewMultiErr` and `Add` keep only the non-nil errors returned by the steps.
// `Error()` joins their messages with newlines, and the result is printed using `fmt.Println()`.
