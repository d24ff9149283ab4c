package domain

import "time"

// DocumentType selects the allow-list applied to a KYC upload.
type DocumentType string

const (
	DocProofOfIdentity DocumentType = "proof-of-identity"
	DocProofOfAddress  DocumentType = "proof-of-address"
	DocSelfie          DocumentType = "selfie"
	DocBankStatement   DocumentType = "bank-statement"
)

// DocumentPolicy is the per-type upload allow-list.
type DocumentPolicy struct {
	ContentTypes []string
	MaxBytes     int64
}

const mib = 1 << 20

// DocumentPolicies is keyed by every accepted DocumentType.
var DocumentPolicies = map[DocumentType]DocumentPolicy{
	DocProofOfIdentity: {ContentTypes: []string{"image/jpeg", "image/png", "application/pdf"}, MaxBytes: 10 * mib},
	DocProofOfAddress:  {ContentTypes: []string{"application/pdf", "image/jpeg", "image/png"}, MaxBytes: 10 * mib},
	DocSelfie:          {ContentTypes: []string{"image/jpeg", "image/png"}, MaxBytes: 5 * mib},
	DocBankStatement:   {ContentTypes: []string{"application/pdf"}, MaxBytes: 10 * mib},
}

// Allows reports whether contentType is on the allow-list.
func (p DocumentPolicy) Allows(contentType string) bool {
	for _, ct := range p.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// Document is the metadata row written after a server-side upload succeeds.
type Document struct {
	DocumentID   string       `json:"id" dynamodbav:"document_id"`
	OwnerID      string       `json:"owner_id" dynamodbav:"owner_id"`
	DocumentType DocumentType `json:"document_type" dynamodbav:"document_type"`
	ObjectPath   string       `json:"path" dynamodbav:"object_path"`
	ContentType  string       `json:"content_type" dynamodbav:"content_type"`
	Filename     string       `json:"filename,omitempty" dynamodbav:"original_filename,omitempty"`
	Size         int64        `json:"size" dynamodbav:"size"`
	Hash         string       `json:"sha256" dynamodbav:"hash"`
	CreatedAt    time.Time    `json:"created" dynamodbav:"created_at"`
}

// SignedAccessGrant is a bearer read capability. It is never persisted.
type SignedAccessGrant struct {
	GrantID    string    `json:"grant_id"`
	ObjectPath string    `json:"path"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// UploadTarget is a presigned write capability for one object path.
type UploadTarget struct {
	ObjectPath string            `json:"path"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	MaxBytes   int64             `json:"max_bytes"`
	ExpiresAt  time.Time         `json:"expires_at"`
}
