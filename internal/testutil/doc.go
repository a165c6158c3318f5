// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing analysis states, search results and
// collaborators. The fakes record their calls and are safe for concurrent
// use. They are not intended for production usage.
package testutil
