// Package logging builds the *slog.Logger handed to every component.
package logging
