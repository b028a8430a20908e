package normalize

// payloadSchema is the JSON Schema every chainhook delivery must satisfy
// before any normalization happens. Validation failing here means the whole
// payload is rejected with no partial events.
const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["apply", "rollback"],
  "properties": {
    "apply": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["block_identifier", "timestamp", "transactions"],
        "properties": {
          "block_identifier": {"$ref": "#/$defs/blockIdentifier"},
          "parent_block_identifier": {"$ref": "#/$defs/blockIdentifier"},
          "timestamp": {"type": "integer"},
          "transactions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["transaction_identifier", "metadata"],
              "properties": {
                "transaction_identifier": {
                  "type": "object",
                  "required": ["hash"],
                  "properties": {"hash": {"type": "string", "minLength": 1}}
                },
                "metadata": {
                  "type": "object",
                  "required": ["success"],
                  "properties": {
                    "success": {"type": "boolean"},
                    "sender": {"type": "string"},
                    "events": {
                      "type": "array",
                      "items": {
                        "type": "object",
                        "required": ["type"],
                        "properties": {
                          "type": {"type": "string", "minLength": 1}
                        }
                      }
                    },
                    "contract_calls_stack": {
                      "type": "array",
                      "items": {"type": "string"}
                    }
                  }
                }
              }
            }
          }
        }
      }
    },
    "rollback": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["block_identifier"],
        "properties": {
          "block_identifier": {"$ref": "#/$defs/blockIdentifier"}
        }
      }
    }
  },
  "$defs": {
    "blockIdentifier": {
      "type": "object",
      "required": ["index", "hash"],
      "properties": {
        "index": {"type": "integer", "minimum": 0},
        "hash": {"type": "string", "minLength": 1}
      }
    }
  }
}`
