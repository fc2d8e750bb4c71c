package audit

import "time"

// HashAlgorithm is the digest used for content hashes and transaction IDs.
const HashAlgorithm = "SHA-256"

// Record is one entry in the simulated audit ledger. Records form a
// chain: each carries the transaction ID of its predecessor.
type Record struct {
	ID                string         `json:"id"`
	TransactionID     string         `json:"transaction_id"`
	PrevTransactionID string         `json:"prev_transaction_id,omitempty"`
	Operation         string         `json:"operation"`
	ContentHash       string         `json:"content_hash"`
	HashAlgorithm     string         `json:"hash_algorithm"`
	Author            string         `json:"author"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	RecordedAt        time.Time      `json:"recorded_at"`
}

// Verification is the result of re-deriving a record's transaction ID.
type Verification struct {
	TransactionID string `json:"transaction_id"`
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
}

// ChainVerification is the result of walking the ledger backwards.
type ChainVerification struct {
	Checked int            `json:"checked"`
	Valid   bool           `json:"valid"`
	Broken  []Verification `json:"broken,omitempty"`
}
