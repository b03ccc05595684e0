package model

import "time"

// DocumentStatus represents the processing status of an uploaded document.
type DocumentStatus string

const (
	// DocumentStatusUploaded indicates the file is stored but not yet processed.
	DocumentStatusUploaded DocumentStatus = "uploaded"
	// DocumentStatusProcessing indicates a worker is extracting and indexing the document.
	DocumentStatusProcessing DocumentStatus = "processing"
	// DocumentStatusReady indicates the document is indexed and queryable.
	DocumentStatusReady DocumentStatus = "ready"
	// DocumentStatusFailed indicates processing failed; error_message holds the reason.
	DocumentStatusFailed DocumentStatus = "failed"
)

// Valid returns true if the DocumentStatus is valid.
func (s DocumentStatus) Valid() bool {
	return s == DocumentStatusUploaded || s == DocumentStatusProcessing ||
		s == DocumentStatusReady || s == DocumentStatusFailed
}

// RagType identifies which retrieval corpus a document belongs to.
type RagType string

const (
	// RagTypeSupport is the support knowledge-base corpus.
	RagTypeSupport RagType = "support"
	// RagTypeResume is the resume-analysis corpus.
	RagTypeResume RagType = "resume"
	// RagTypeExpense is the expense-report corpus.
	RagTypeExpense RagType = "expense"
)

// Valid returns true if the RagType is valid.
func (t RagType) Valid() bool {
	return t == RagTypeSupport || t == RagTypeResume || t == RagTypeExpense
}

// Document is the persisted state of an uploaded file. The job handlers own
// its status transitions; everything else about documents (upload, retrieval)
// lives outside the job core.
type Document struct {
	ID           string         `json:"id"                      db:"id"`
	UserID       string         `json:"user_id"                 db:"user_id"`
	RagType      RagType        `json:"rag_type"                db:"rag_type"`
	FilePath     string         `json:"file_path"               db:"file_path"`
	FileType     string         `json:"file_type"               db:"file_type"`
	FileSize     int64          `json:"file_size"               db:"file_size"`
	Status       DocumentStatus `json:"status"                  db:"status"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time      `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"              db:"updated_at"`
}

// DocumentKey identifies a document in the external index.
type DocumentKey struct {
	DocumentID string
	UserID     string
	RagType    RagType
}
