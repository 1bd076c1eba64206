// Package blob defines the store behind avatar uploads.
//
// UPLOAD FLOW:
//  1. The client asks the write path for an upload target.
//  2. The store hands out a short-lived, single-use upload handle together
//     with the ref the stored object will get.
//  3. The client sends the raw bytes to UploadURL.
//  4. The client saves the ref on its profile; readers turn it into a URL
//     with ResolveURL at read time.
package blob

import (
	"context"
	"io"
	"time"
)

// UploadTarget is one allocated upload slot.
type UploadTarget struct {
	Handle    string    `json:"uploadHandle"`
	Ref       string    `json:"avatarRef"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Object is an opened stored blob.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

// Store allocates upload slots, accepts uploads and resolves refs to URLs.
type Store interface {
	AllocateUploadTarget(ctx context.Context, owner string) (UploadTarget, error)
	// Upload consumes handle and stores r. It returns the stored ref.
	Upload(ctx context.Context, handle string, r io.Reader) (string, error)
	// ResolveURL returns the public URL of ref, or "" when ref is unknown.
	ResolveURL(ctx context.Context, ref string) (string, error)
	Open(ctx context.Context, ref string) (*Object, error)
}
