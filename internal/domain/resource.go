package domain

import "github.com/google/uuid"

// ResourceUpload describes a generated file handed to a resource store.
type ResourceUpload struct {
	OwnerID     uuid.UUID
	FileName    string
	ContentType string
	Role        string
	Data        []byte
}
