package outbox

const confirmationEmailSchema = `{
  "type": "object",
  "title": "ConfirmationEmailJob",
  "properties": {
    "job_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "recipient": {"type": "string"},
    "activity_name": {"type": "string"},
    "activity_info": {"type": "string"},
    "requested_at": {"type": "string", "format": "date-time"}
  },
  "required": ["job_id", "tenant_id", "recipient", "activity_name", "requested_at"],
  "additionalProperties": false
}`
