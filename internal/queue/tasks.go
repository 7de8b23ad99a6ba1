package queue

const TypeKnowledgeGenerate = "knowledge:generate"

// KnowledgeGeneratePayload identifies one pipeline run. The worker re-checks
// the document's status before doing any work, so a stale or duplicate task
// is harmless.
type KnowledgeGeneratePayload struct {
	UserID string `json:"user_id"`
	FileID string `json:"file_id"`
}
