package sdk

import "time"

// Webhook event types delivered by the engine.
const (
	// EventWorkflowCompleted: a workflow finished successfully.
	EventWorkflowCompleted = "workflow.completed"

	// EventWorkflowFailed: a workflow ended with an error.
	EventWorkflowFailed = "workflow.failed"

	// EventExecutionFailed: a processor execution failed inside a workflow.
	EventExecutionFailed = "execution.failed"

	// EventFactorUpdated: consolidation changed the factor set.
	EventFactorUpdated = "factor.updated"
)

// Merchant is the business entity under review.
type Merchant struct {
	Name                 string `json:"name"`
	DBAName              string `json:"dba_name,omitempty"`
	EIN                  string `json:"ein,omitempty"`
	Industry             string `json:"industry,omitempty"`
	Email                string `json:"email,omitempty"`
	Phone                string `json:"phone,omitempty"`
	Website              string `json:"website,omitempty"`
	EntityType           string `json:"entity_type,omitempty"`
	IncorporationDate    string `json:"incorporation_date,omitempty"`
	StateOfIncorporation string `json:"state_of_incorporation,omitempty"`
}

// Owner is a beneficial owner on the application.
type Owner struct {
	ID           string  `json:"owner_id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Email        string  `json:"email,omitempty"`
	OwnershipPct float64 `json:"ownership_percent,omitempty"`
	PrimaryOwner bool    `json:"primary_owner"`
	Enabled      bool    `json:"enabled"`
}

// Document is an uploaded stipulation document.
type Document struct {
	ID                string `json:"id"`
	StipulationType   string `json:"stipulation_type"`
	CurrentRevisionID string `json:"current_revision_id"`
	Filename          string `json:"filename,omitempty"`
	MimeType          string `json:"mime_type,omitempty"`
}

// Underwriting is the case snapshot returned by the API.
type Underwriting struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	SerialNumber   string     `json:"serial_number,omitempty"`
	Status         string     `json:"status"`
	Merchant       Merchant   `json:"merchant"`
	Owners         []Owner    `json:"owners,omitempty"`
	Documents      []Document `json:"documents,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Factor is one consolidated underwriting factor.
type Factor struct {
	ID                      string      `json:"id"`
	OrganizationID          string      `json:"organization_id"`
	UnderwritingID          string      `json:"underwriting_id"`
	UnderwritingProcessorID string      `json:"underwriting_processor_id"`
	ExecutionID             string      `json:"execution_id"`
	Key                     string      `json:"factor_key"`
	Value                   interface{} `json:"value"`
	Unit                    string      `json:"unit,omitempty"`
	Source                  string      `json:"source,omitempty"`
	Status                  string      `json:"status"`
	FactorHash              string      `json:"factor_hash,omitempty"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`
}

// Execution is one processor run, terminal or not.
type Execution struct {
	ID                      string                 `json:"id"`
	OrganizationID          string                 `json:"organization_id"`
	UnderwritingID          string                 `json:"underwriting_id"`
	UnderwritingProcessorID string                 `json:"underwriting_processor_id"`
	Processor               string                 `json:"processor"`
	Status                  string                 `json:"status"`
	Enabled                 bool                   `json:"enabled"`
	PayloadHash             string                 `json:"payload_hash"`
	FactorsDelta            map[string]interface{} `json:"factors_delta,omitempty"`
	RunCostCents            int64                  `json:"run_cost_cents"`
	StartedAt               *time.Time             `json:"started_at,omitempty"`
	CompletedAt             *time.Time             `json:"completed_at,omitempty"`
	FailedCode              string                 `json:"failed_code,omitempty"`
	FailedReason            string                 `json:"failed_reason,omitempty"`
	UpdatedExecutionID      string                 `json:"updated_execution_id,omitempty"`
	CreatedAt               time.Time              `json:"created_at"`
}

// ProcessorInstance is one processor attached to an underwriting.
type ProcessorInstance struct {
	ID                    string    `json:"id"`
	OrganizationID        string    `json:"organization_id"`
	UnderwritingID        string    `json:"underwriting_id"`
	Processor             string    `json:"processor"`
	Name                  string    `json:"name,omitempty"`
	Auto                  bool      `json:"auto"`
	Enabled               bool      `json:"enabled"`
	CurrentExecutionsList []string  `json:"current_executions_list"`
	CreatedAt             time.Time `json:"created_at"`
}

// WorkflowEntry is one stage record from the workflow audit log.
type WorkflowEntry struct {
	ID              string                 `json:"id"`
	UnderwritingID  string                 `json:"underwriting_id"`
	WorkflowName    string                 `json:"workflow_name"`
	Stage           string                 `json:"stage"`
	Status          string                 `json:"status"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ExecutionTimeMS int64                  `json:"execution_time_ms"`
	Output          map[string]interface{} `json:"output,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ArchivedSnapshot is the most recent factor snapshot of a case.
type ArchivedSnapshot struct {
	ID             string    `json:"id"`
	UnderwritingID string    `json:"underwriting_id"`
	Workflow       string    `json:"workflow"`
	ContentHash    string    `json:"content_hash"`
	FactorCount    int       `json:"factor_count"`
	Factors        []Factor  `json:"factors"`
	CreatedAt      time.Time `json:"created_at"`
}

// FactorList wraps GET /underwritings/{id}/factors.
type FactorList struct {
	UnderwritingID string   `json:"underwriting_id"`
	Count          int      `json:"count"`
	Factors        []Factor `json:"factors"`
}

// ExecutionList wraps GET /underwritings/{id}/executions.
type ExecutionList struct {
	UnderwritingID string      `json:"underwriting_id"`
	Count          int         `json:"count"`
	Executions     []Execution `json:"executions"`
}

// ProcessorList wraps GET /underwritings/{id}/processors.
type ProcessorList struct {
	UnderwritingID string              `json:"underwriting_id"`
	Count          int                 `json:"count"`
	Processors     []ProcessorInstance `json:"processors"`
}

// WorkflowList wraps GET /underwritings/{id}/workflows.
type WorkflowList struct {
	UnderwritingID string          `json:"underwriting_id"`
	Count          int             `json:"count"`
	Workflows      []WorkflowEntry `json:"workflows"`
}

// TriggerAccepted acknowledges a published workflow trigger. The
// workflow itself runs asynchronously; follow the workflow log, the
// event stream or a webhook for the outcome.
type TriggerAccepted struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
}

// ManualExecutionRequest is the Workflow 2 trigger payload. Exactly one
// scenario applies: ExecutionID reruns one run, ApplicationForm or
// DocumentList runs a one-off data subset, and neither reruns the whole
// processor from the current snapshot.
type ManualExecutionRequest struct {
	UnderwritingProcessorID string                 `json:"underwriting_processor_id"`
	ExecutionID             string                 `json:"execution_id,omitempty"`
	Duplicate               bool                   `json:"duplicate,omitempty"`
	ApplicationForm         map[string]interface{} `json:"application_form,omitempty"`
	DocumentList            []interface{}          `json:"document_list,omitempty"`
}

// WebhookSubscription registers a callback URL for engine events.
type WebhookSubscription struct {
	ID             string    `json:"id,omitempty"`
	URL            string    `json:"url"`
	Events         []string  `json:"events"`
	Secret         string    `json:"secret,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Active         bool      `json:"active,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	FailCount      int       `json:"fail_count,omitempty"`
}

// WebhookList wraps GET /webhooks.
type WebhookList struct {
	Count    int                   `json:"count"`
	Webhooks []WebhookSubscription `json:"webhooks"`
}

// WebhookEvent is the signed payload POSTed to subscribed URLs.
type WebhookEvent struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Source         string                 `json:"source"`
	Timestamp      time.Time              `json:"timestamp"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	UnderwritingID string                 `json:"underwriting_id,omitempty"`
	Data           map[string]interface{} `json:"data"`
}

// Health is the GET /health report.
type Health struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Postgres      string `json:"postgres"`
	Redis         string `json:"redis"`
	StreamClients int    `json:"stream_clients"`
}
