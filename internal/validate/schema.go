package validate

// logEventSchema is the accepted shape of a client-submitted event.
// userAgent, requestIp, receivedAt and eventId are rejected as undeclared:
// the gateway owns them.
const logEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["customerId", "userId", "event", "ip", "device"],
  "properties": {
    "customerId": { "type": "string", "minLength": 1 },
    "userId":     { "type": "string", "minLength": 1 },
    "event":      { "type": "string", "minLength": 1 },
    "ip":         { "type": "string", "minLength": 3 },
    "device":     { "type": "string", "minLength": 1 },
    "metadata":   { "type": "object", "additionalProperties": true },
    "eventTime":  { "type": ["string", "null"], "format": "date-time" }
  }
}`

const schemaURL = "https://bruteguard.local/schemas/log-event.json"
