package storage

import (
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/types"
)

// PadStatus is the persisted status record of one pad.
type PadStatus struct {
	PadCode       string       `json:"pad_code"`
	CurrentStatus string       `json:"current_status"`
	TemplateID    int          `json:"template_id"`
	Locale        types.Locale `json:"locale"`
	RunCount      int          `json:"run_count"`
	SuccessCount  int          `json:"success_count"`
	ErrorCount    int          `json:"error_count"`

	// business counters reported by the on-device script
	PhoneNumberCounts int `json:"phone_number_counts"`
	ForwardNum        int `json:"forward_num"`
	SecondaryEmailNum int `json:"secondary_email_num"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusUpdate is a partial change of a PadStatus. Nil fields are left as they
// are, counter deltas are added.
type StatusUpdate struct {
	Status     *string
	TemplateID *int
	Locale     *types.Locale

	RunDelta     int
	SuccessDelta int
	ErrorDelta   int

	PhoneNumberCounts *int
	ForwardNum        *int
	SecondaryEmailNum *int
}

// Label returns an update that only sets the status label.
func Label(status string) StatusUpdate {
	return StatusUpdate{Status: &status}
}
