// Package testutil contains helper builders and doubles used across tests to
// reduce boilerplate when constructing conversation turns, scripted model
// steps and tool executors. They are not intended for production usage.
package testutil
