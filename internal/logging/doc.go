// Package logging centralizes slog construction and the structured field
// vocabulary shared across reelpipe components.
package logging
