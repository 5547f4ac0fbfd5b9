// Package storage defines the object storage capability and its HTTP gateway
// client. Permanent references use the gs://bucket/object form; anything the
// pipeline intends to keep must be re-uploaded here because third-party
// generation URLs expire.
package storage
