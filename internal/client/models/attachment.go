package models

// UploadStatus tracks the lifecycle of an attachment's binary payload.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusFailed    UploadStatus = "failed"
)

// Attachment references a binary payload (audio/image) owned by a note.
// A note mutation referencing an attachment may not be flushed until the
// attachment's status is UploadStatusUploaded.
type Attachment struct {
	ID        string
	NoteID    string
	LocalPath string
	Mime      string
	Status    UploadStatus

	// RemoteRef is the stable remote reference, populated once uploaded.
	RemoteRef string

	RetryCount int
}

// AttachmentRef is the wire form sent with a flushed mutation: the stable
// remote reference only, never the local path.
type AttachmentRef struct {
	ID        string `json:"id"`
	Mime      string `json:"mime"`
	RemoteRef string `json:"remote_ref"`
}
