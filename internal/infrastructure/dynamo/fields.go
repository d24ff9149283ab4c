package dynamo

// DynamoDB attribute names used in key and update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldUserID         = "user_id"
	fieldEmail          = "email"
	fieldRole           = "role"
	fieldSubjectID      = "subject_id"
	fieldCodeID         = "code_id"
	fieldCodeHash       = "code_hash"
	fieldPurpose        = "purpose"
	fieldUsed           = "used"
	fieldUsedAt         = "used_at"
	fieldUsedReason     = "used_reason"
	fieldExpiresAt      = "expires_at"
	fieldDeliveryStatus = "delivery_status"
	fieldClaimToken     = "claim_token"
	fieldClaimExpiresAt = "claim_expires_at"
	fieldAttempts       = "attempts"
	fieldSuperseded     = "superseded_pending"
	fieldDocumentID     = "document_id"
	fieldOwnerID        = "owner_id"
	fieldUpdatedAt      = "updated_at"
)
