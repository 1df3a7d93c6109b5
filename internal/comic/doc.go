// Package comic holds the normalized strip model, the series directory, identifier
// helpers for the two addressing families, and the Source capability with its Registry.
package comic
