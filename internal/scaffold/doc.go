// Package scaffold generates a new skill directory from embedded templates.
// It powers the "init" command, producing a SKILL.md whose front matter
// passes manifest validation and is ready to publish.
package scaffold
