package storage

import "errors"

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrWorkspaceExists   = errors.New("workspace already exists")
	ErrBlobNotFound      = errors.New("blob not found")
	ErrInvalidData       = errors.New("invalid data")
	ErrStorageInit       = errors.New("storage initialization failed")
	ErrFileOperation     = errors.New("file operation failed")
)
