// Package userdata resolves the directories the package manager writes to:
// the global and project-local install roots, the ~/.permaskills home with
// its config and wallet, and the download cache. It also implements the
// doctor health check over those locations.
package userdata
