// Package services defines the shared error taxonomy and context annotations
// used by reelpipe's external capability clients and step executors.
package services
