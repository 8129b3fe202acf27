package lumen

import "strings"

// literalSanitizer escapes a string constant for bytecode-listing/debug
// display (spec.md §6.3), adapted from the teacher's AST pretty-printer
// literal escaping.
var literalSanitizer = strings.NewReplacer(
	`"`, `\"`,
	`\`, `\\`,
	string('\n'), `\n`,
	string('\r'), `\r`,
	string('\t'), `\t`,
)

func escapeLiteral(s string) string {
	return literalSanitizer.Replace(s)
}
