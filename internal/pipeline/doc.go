// Package pipeline defines the closed set of step variants that make up a
// content-generation recipe, along with their typed configuration payloads.
//
// A Step's Config payload is carried as raw JSON and decoded through the
// typed accessors (VideoGeneration, TextOverlay, ...). Dispatch over step
// types is always an exhaustive switch so that adding a variant is a
// compile-visible change everywhere it must be handled.
package pipeline
