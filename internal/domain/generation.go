package domain

import (
	"time"
)

// RunStatus represents the lifecycle status of a generation run.
// Values include RunStatusPending, RunStatusProcessing, RunStatusCompleted, and RunStatusFailed.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether no further orchestrator writes are expected.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// OutputStatus represents the status of a single decade output.
// Values include OutputStatusPending, OutputStatusCompleted, and OutputStatusFailed.
type OutputStatus string

const (
	OutputStatusPending   OutputStatus = "pending"
	OutputStatusCompleted OutputStatus = "completed"
	OutputStatusFailed    OutputStatus = "failed"
)

// GenerationRun is one end-to-end request to generate every decade variant
// of a single uploaded portrait.
type GenerationRun struct {
	ID                  string             `gorm:"type:text;primaryKey" json:"id"`
	Status              RunStatus          `gorm:"type:text;not null;index:idx_runs_status;default:pending" json:"status"`
	CompletedImages     int                `gorm:"not null;default:0" json:"completed_images"`
	ErrorMessage        *string            `gorm:"type:text" json:"error_message"`
	LastProgressMessage *string            `gorm:"type:text" json:"last_progress_message"`
	ThumbImagePath      *string            `gorm:"type:text" json:"thumb_image_path"`
	InputImagePath      string             `gorm:"type:text;not null" json:"input_image_path"`
	InputContentType    string             `gorm:"type:text" json:"input_content_type"`
	Outputs             []GenerationOutput `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"outputs,omitempty"`
	CreatedAt           time.Time          `gorm:"index:idx_runs_created_at" json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// TableName returns the database table name for GenerationRun.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (GenerationRun) TableName() string {
	return "generation_runs"
}

// GenerationOutput is one decade-specific generation attempt belonging to a run.
type GenerationOutput struct {
	ID           string       `gorm:"type:text;primaryKey" json:"id"`
	RunID        string       `gorm:"type:text;not null;uniqueIndex:idx_outputs_run_decade" json:"run_id"`
	Decade       Decade       `gorm:"type:text;not null;uniqueIndex:idx_outputs_run_decade" json:"decade"`
	Status       OutputStatus `gorm:"type:text;not null;default:pending" json:"status"`
	ImagePath    *string      `gorm:"type:text" json:"image_path"`
	ErrorMessage *string      `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the database table name for GenerationOutput.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (GenerationOutput) TableName() string {
	return "generation_outputs"
}

// StringPtr returns a pointer to s. Handy for the nullable text columns.
func StringPtr(s string) *string {
	return &s
}
