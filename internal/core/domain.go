package core

import "time"

// UnderwritingStatus is the lifecycle state of an underwriting case.
type UnderwritingStatus string

const (
	UnderwritingCreated    UnderwritingStatus = "created"
	UnderwritingProcessing UnderwritingStatus = "processing"
	UnderwritingPassed     UnderwritingStatus = "passed"
	UnderwritingRejected   UnderwritingStatus = "rejected"
)

// ExecutionStatus is the lifecycle state of a processor execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// FactorStatus marks a factor row as live or soft-deleted.
type FactorStatus string

const (
	FactorActive  FactorStatus = "active"
	FactorDeleted FactorStatus = "deleted"
)

// ProcessorKind determines how payloads are shaped for a processor.
type ProcessorKind string

const (
	KindApplication ProcessorKind = "APPLICATION"
	KindStipulation ProcessorKind = "STIPULATION"
	KindDocument    ProcessorKind = "DOCUMENT"
)

// Triggers declares which slice of the underwriting a processor consumes.
// Application processors list dot-path form fields; stipulation and
// document processors list stipulation types.
type Triggers struct {
	ApplicationForm []string `json:"application_form,omitempty"`
	DocumentsList   []string `json:"documents_list,omitempty"`
}

// Empty reports whether no trigger dimension is declared.
func (t Triggers) Empty() bool {
	return len(t.ApplicationForm) == 0 && len(t.DocumentsList) == 0
}

// Address is a postal address attached to a merchant or an owner.
type Address struct {
	Addr1 string `json:"addr_1"`
	Addr2 string `json:"addr_2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// Merchant holds the business fields of an underwriting application.
type Merchant struct {
	Name                 string   `json:"name"`
	DBAName              string   `json:"dba_name,omitempty"`
	EIN                  string   `json:"ein"`
	Industry             string   `json:"industry,omitempty"`
	Email                string   `json:"email,omitempty"`
	Phone                string   `json:"phone,omitempty"`
	Website              string   `json:"website,omitempty"`
	EntityType           string   `json:"entity_type,omitempty"`
	IncorporationDate    string   `json:"incorporation_date,omitempty"`
	StateOfIncorporation string   `json:"state_of_incorporation,omitempty"`
	Address              *Address `json:"address,omitempty"`
}

// Owner is one beneficial owner on an underwriting.
type Owner struct {
	ID               string    `json:"owner_id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Email            string    `json:"email,omitempty"`
	PhoneMobile      string    `json:"phone_mobile,omitempty"`
	PhoneHome        string    `json:"phone_home,omitempty"`
	PhoneWork        string    `json:"phone_work,omitempty"`
	Birthday         string    `json:"birthday,omitempty"`
	FicoScore        int       `json:"fico_score,omitempty"`
	SSN              string    `json:"ssn,omitempty"`
	OwnershipPercent float64   `json:"ownership_percent,omitempty"`
	PrimaryOwner     bool      `json:"primary_owner"`
	Enabled          bool      `json:"enabled"`
	Address          *Address  `json:"address,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Document is an uploaded stipulation document on an underwriting.
type Document struct {
	ID                string    `json:"id"`
	UnderwritingID    string    `json:"underwriting_id"`
	Status            string    `json:"status"`
	StipulationType   string    `json:"stipulation_type"` // e.g. "s_bank_statement"
	CurrentRevisionID string    `json:"current_revision_id"`
	Filename          string    `json:"filename,omitempty"`
	MimeType          string    `json:"mime_type,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DocumentRevision is one stored version of a document.
type DocumentRevision struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Revision   int       `json:"revision"`
	GCSURI     string    `json:"gcs_uri,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Underwriting is the full snapshot filtration works from: the case row
// plus merchant, owners and documents.
type Underwriting struct {
	ID               string             `json:"id"`
	OrganizationID   string             `json:"organization_id"`
	SerialNumber     string             `json:"serial_number,omitempty"`
	Status           UnderwritingStatus `json:"status"`
	ApplicationType  string             `json:"application_type,omitempty"`
	ApplicationRefID string             `json:"application_ref_id,omitempty"`
	RequestAmount    float64            `json:"request_amount,omitempty"`
	RequestDate      string             `json:"request_date,omitempty"`
	Purpose          string             `json:"purpose,omitempty"`
	Merchant         Merchant           `json:"merchant"`
	Owners           []Owner            `json:"owners"`
	Documents        []Document         `json:"documents,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// OrganizationProcessor is a processor subscription purchased by a tenant.
type OrganizationProcessor struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	Processor      string                 `json:"processor"` // registry name
	Name           string                 `json:"name"`
	Auto           bool                   `json:"auto"`
	Status         string                 `json:"status"` // active, disabled
	Config         map[string]interface{} `json:"config,omitempty"`
	PriceCents     int64                  `json:"price_cents,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// UnderwritingProcessor binds a subscription to one underwriting.
// CurrentExecutionsList holds the execution ids whose outputs are
// presently authoritative for this processor on this case.
type UnderwritingProcessor struct {
	ID                      string                 `json:"id"`
	OrganizationID          string                 `json:"organization_id"`
	UnderwritingID          string                 `json:"underwriting_id"`
	OrganizationProcessorID string                 `json:"organization_processor_id"`
	Processor               string                 `json:"processor"`
	Name                    string                 `json:"name"`
	Auto                    bool                   `json:"auto"`
	Enabled                 bool                   `json:"enabled"`
	ConfigOverride          map[string]interface{} `json:"config_override,omitempty"`
	EffectiveConfig         map[string]interface{} `json:"effective_config,omitempty"`
	CurrentExecutionsList   []string               `json:"current_executions_list"`
	CreatedAt               time.Time              `json:"created_at"`
	UpdatedAt               time.Time              `json:"updated_at"`
}

// Execution is one concrete run of one processor for one underwriting.
type Execution struct {
	ID                      string                 `json:"id"`
	OrganizationID          string                 `json:"organization_id"`
	UnderwritingID          string                 `json:"underwriting_id"`
	UnderwritingProcessorID string                 `json:"underwriting_processor_id"`
	Processor               string                 `json:"processor"`
	Status                  ExecutionStatus        `json:"status"`
	Enabled                 bool                   `json:"enabled"`
	Payload                 map[string]interface{} `json:"payload"`
	PayloadHash             string                 `json:"payload_hash"`
	FactorsDelta            map[string]interface{} `json:"factors_delta,omitempty"`
	RunCostCents            int64                  `json:"run_cost_cents"`
	StartedAt               *time.Time             `json:"started_at,omitempty"`
	CompletedAt             *time.Time             `json:"completed_at,omitempty"`
	FailedCode              string                 `json:"failed_code,omitempty"`
	FailedReason            string                 `json:"failed_reason,omitempty"`
	UpdatedExecutionID      string                 `json:"updated_execution_id,omitempty"` // forward link to the superseding run
	CreatedAt               time.Time              `json:"created_at"`
	UpdatedAt               time.Time              `json:"updated_at"`
}

// Superseded reports whether a newer execution replaced this one.
func (e *Execution) Superseded() bool { return e.UpdatedExecutionID != "" }

// Factor is a named output value attached to an underwriting, attributed
// to the execution that produced it.
type Factor struct {
	ID                      string       `json:"id"`
	OrganizationID          string       `json:"organization_id"`
	UnderwritingID          string       `json:"underwriting_id"`
	UnderwritingProcessorID string       `json:"underwriting_processor_id"`
	ExecutionID             string       `json:"execution_id"`
	Key                     string       `json:"factor_key"`
	Value                   interface{}  `json:"value"`
	Unit                    string       `json:"unit,omitempty"`
	Source                  string       `json:"source"` // processor, manual
	Status                  FactorStatus `json:"status"`
	FactorHash              string       `json:"factor_hash"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

// WorkflowEntry is one append-only audit record of a workflow stage.
type WorkflowEntry struct {
	ID              string                 `json:"id"`
	UnderwritingID  string                 `json:"underwriting_id"`
	WorkflowName    string                 `json:"workflow_name"` // e.g. "Workflow 1"
	Stage           string                 `json:"stage"`         // e.g. "filtration", "generate_execution"
	Payload         map[string]interface{} `json:"payload,omitempty"`
	Input           map[string]interface{} `json:"input,omitempty"`
	PayloadHash     string                 `json:"payload_hash,omitempty"` // short 16-hex fingerprint
	Output          map[string]interface{} `json:"output,omitempty"`
	Status          string                 `json:"status"` // completed, failed
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ExecutionTimeMS int64                  `json:"execution_time_ms"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}
