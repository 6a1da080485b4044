// Package tools defines tool definitions, per request tool catalogs,
// the catalog merge across local and remote providers,
// and the classification of tools that need a human confirmation.
//
// A definition without an Execute function can only run after a user approved the call,
// with an executor supplied by the host.
package tools
