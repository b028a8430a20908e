package api

import "encoding/json"

// ChainhookPayload is the body of one webhook delivery from the chainhook
// provider. Apply carries newly confirmed blocks, Rollback references blocks
// retracted by a chain reorganization.
type ChainhookPayload struct {
	Apply    []Block    `json:"apply"`
	Rollback []BlockRef `json:"rollback"`
}

// BlockIdentifier identifies a block by height and hash.
type BlockIdentifier struct {
	Hash  string `json:"hash"`
	Index uint64 `json:"index"`
}

// BlockRef references a block inside a rollback list.
type BlockRef struct {
	BlockIdentifier BlockIdentifier `json:"block_identifier"`
}

// Block is one applied block with its transactions.
type Block struct {
	BlockIdentifier       BlockIdentifier `json:"block_identifier"`
	ParentBlockIdentifier BlockIdentifier `json:"parent_block_identifier"`
	Transactions          []Transaction   `json:"transactions"`
	Timestamp             int64           `json:"timestamp"` // unix seconds
}

// Transaction is one transaction inside an applied block.
type Transaction struct {
	TransactionIdentifier TransactionIdentifier `json:"transaction_identifier"`
	Metadata              TransactionMetadata   `json:"metadata"`
}

// TransactionIdentifier identifies a transaction by hash.
type TransactionIdentifier struct {
	Hash string `json:"hash"`
}

// TransactionMetadata carries the execution result of a transaction:
// whether it succeeded, who sent it, the contract events it emitted and the
// contract-call stack it went through (first frame = entry-point contract).
type TransactionMetadata struct {
	Sender             string          `json:"sender"`
	Events             []ContractEvent `json:"events"`
	ContractCallsStack []string        `json:"contract_calls_stack"`
	Success            bool            `json:"success"`
}

// ContractEvent is one event emitted by a contract during execution.
// Data is event-type specific: print-style events carry topic/value,
// transfer-style events carry amount/sender/recipient.
type ContractEvent struct {
	Data json.RawMessage `json:"data"`
	Type string          `json:"type"`
}

// IngestResponse is returned by the ingestion endpoint on success.
type IngestResponse struct {
	Processed ProcessedCounts `json:"processed"`
	Success   bool            `json:"success"`
}

// ProcessedCounts reports how many apply blocks and rollback references
// were handled in one delivery.
type ProcessedCounts struct {
	Apply    int `json:"apply"`
	Rollback int `json:"rollback"`
}
