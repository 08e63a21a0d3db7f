// ABOUTME: SQL LIKE pattern escaping for request-log queries.
// ABOUTME: Keeps user-supplied path filters from acting as wildcards.

package store

import "strings"

// likeEscaper neutralizes the LIKE metacharacters so a path-prefix filter
// matches literally. Backslash goes first so it never double-escapes.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(pattern string) string {
	return likeEscaper.Replace(pattern)
}
