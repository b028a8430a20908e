// Package normalize converts raw chainhook deliveries into canonical
// events and resolves rollback lists into invalidation commands.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/pkg/api"
)

// ErrInvalidPayload indicates the delivery failed schema validation.
// Nothing is normalized from an invalid payload.
var ErrInvalidPayload = errors.New("invalid chainhook payload")

// principalRoles are the event-payload fields whose values are principal
// addresses and therefore count as affected entities.
var principalRoles = []string{"sender", "recipient", "provider", "beneficiary", "owner"}

// Result is the outcome of normalizing one delivery.
type Result struct {
	Events            []*models.NormalizedEvent
	InvalidateHeights []uint64 // consumed by the store's reorg delete and the invalidate broadcast
	BlockErrors       []error  // per-block failures; other blocks still normalized
	Applied           int
	RolledBack        int
}

// Normalizer validates and normalizes chainhook payloads.
type Normalizer struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

// New compiles the payload schema and returns a ready normalizer.
func New(logger *slog.Logger) (*Normalizer, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("chainhook-payload.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("chainhook-payload.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload schema: %w", err)
	}

	return &Normalizer{schema: schema, logger: logger}, nil
}

// Normalize validates raw against the payload schema and converts it into
// canonical events plus the set of block heights a rollback invalidates.
// A malformed payload fails fast with ErrInvalidPayload and produces no
// partial events. A failure inside one apply block is isolated: it is
// recorded in Result.BlockErrors and the remaining blocks are still
// processed.
func (n *Normalizer) Normalize(raw []byte) (*Result, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := n.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var payload api.ChainhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	result := &Result{
		Applied:    len(payload.Apply),
		RolledBack: len(payload.Rollback),
	}

	for _, block := range payload.Apply {
		events, err := n.normalizeBlock(block)
		if err != nil {
			n.logger.Warn("Failed to normalize block",
				"height", block.BlockIdentifier.Index,
				"hash", block.BlockIdentifier.Hash,
				"error", err)
			result.BlockErrors = append(result.BlockErrors,
				fmt.Errorf("block %d: %w", block.BlockIdentifier.Index, err))
			continue
		}
		result.Events = append(result.Events, events...)
	}

	for _, ref := range payload.Rollback {
		result.InvalidateHeights = append(result.InvalidateHeights, ref.BlockIdentifier.Index)
	}

	return result, nil
}

// normalizeBlock produces one NormalizedEvent per contract event of every
// successful transaction in the block. Failed transactions are skipped.
func (n *Normalizer) normalizeBlock(block api.Block) ([]*models.NormalizedEvent, error) {
	var events []*models.NormalizedEvent

	for _, tx := range block.Transactions {
		if !tx.Metadata.Success {
			continue
		}

		resource := models.ResourceUnknown
		if len(tx.Metadata.ContractCallsStack) > 0 {
			resource = tx.Metadata.ContractCallsStack[0]
		}

		for _, contractEvent := range tx.Metadata.Events {
			event, err := n.normalizeEvent(block, tx, contractEvent, resource)
			if err != nil {
				return nil, fmt.Errorf("tx %s: %w", tx.TransactionIdentifier.Hash, err)
			}
			events = append(events, event)
		}
	}

	return events, nil
}

func (n *Normalizer) normalizeEvent(block api.Block, tx api.Transaction, contractEvent api.ContractEvent, resource string) (*models.NormalizedEvent, error) {
	var data map[string]any
	if len(contractEvent.Data) > 0 {
		if err := json.Unmarshal(contractEvent.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
	}

	event := &models.NormalizedEvent{
		Timestamp:        time.Unix(block.Timestamp, 0).UTC(),
		TxHash:           tx.TransactionIdentifier.Hash,
		BlockHash:        block.BlockIdentifier.Hash,
		Resource:         resource,
		EventType:        contractEvent.Type,
		Payload:          contractEvent.Data,
		AffectedEntities: affectedEntities(tx.Metadata.Sender, data),
		BlockHeight:      block.BlockIdentifier.Index,
		Success:          tx.Metadata.Success,
	}

	// Topic and value extraction is event-type specific: print-style
	// events carry an explicit topic, transfer-style events carry
	// amount/recipient instead.
	switch contractEvent.Type {
	case models.EventTypePrint:
		if topic, ok := data["topic"].(string); ok {
			event.Topic = topic
		}
	case models.EventTypeFTTransfer, models.EventTypeSTXTransfer, models.EventTypeNFTTransfer:
		metadata := make(map[string]any, 2)
		if amount, ok := data["amount"]; ok {
			metadata["amount"] = amount
		}
		if recipient, ok := data["recipient"]; ok {
			metadata["recipient"] = recipient
		}
		if len(metadata) > 0 {
			event.Metadata = metadata
		}
	}

	return event, nil
}

// affectedEntities unions the transaction sender with every
// principal-valued field present in the event payload, de-duplicated in
// first-seen order.
func affectedEntities(sender string, data map[string]any) []string {
	seen := make(map[string]struct{})
	var entities []string

	add := func(principal string) {
		if principal == "" {
			return
		}
		if _, ok := seen[principal]; ok {
			return
		}
		seen[principal] = struct{}{}
		entities = append(entities, principal)
	}

	add(sender)
	for _, role := range principalRoles {
		if value, ok := data[role].(string); ok {
			add(value)
		}
	}

	return entities
}
