// Package manifest handles skill manifests: the SKILL.md YAML front matter
// that names a bundle, the package references used on the command line and
// in dependency lists, and JSON Schema validation of the front matter.
package manifest
