package fs

import (
	"context"
	"errors"
)

// Entry is one file destined for the image. Name is the absolute object
// name, always starting with "/".
type Entry struct {
	Name    string
	Content []byte
}

// Source produces the files of an image in a stable order.
type Source interface {
	// Walk calls fn for every file. An error from fn stops the walk and is
	// returned unchanged.
	Walk(ctx context.Context, fn func(Entry) error) error
	Info() string
}

var (
	ErrPathTraversal   = errors.New("path escapes the filesystem root")
	ErrNotADirectory   = errors.New("not a directory")
	ErrDanglingSymlink = errors.New("symlink target does not exist")
)
