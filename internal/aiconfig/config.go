// Package aiconfig holds the single authoritative configuration that decides
// whether and when automated replies fire.
package aiconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/wolfman30/clinicdesk/internal/schedule"
)

const (
	DefaultWorkingHoursStart = "10:00"
	DefaultWorkingHoursEnd   = "20:00"
	DefaultTimezone          = "Europe/Madrid"
)

// DefaultAutoResponseTemplate is rendered with the clinic profile when no
// generator is configured. Fields: ClinicName, Schedule, Phone, Website.
const DefaultAutoResponseTemplate = "¡Hola! Gracias por escribir a {{.ClinicName}}. " +
	"Hemos recibido tu mensaje y te responderemos lo antes posible. " +
	"Nuestro horario de atención es {{.Schedule}}."

// ErrInvalid marks configuration rejected by Validate.
var ErrInvalid = errors.New("aiconfig: invalid configuration")

// Config is the AI configuration record. The most recently created row is
// authoritative.
type Config struct {
	ID                   string    `json:"id"`
	Enabled              bool      `json:"enabled"`
	ActiveOutsideHours   bool      `json:"active_outside_hours"`
	WorkingHoursStart    string    `json:"working_hours_start"`
	WorkingHoursEnd      string    `json:"working_hours_end"`
	WorkingDays          []int     `json:"working_days"`
	AutoResponseEnabled  bool      `json:"auto_response_enabled"`
	AutoResponseTemplate string    `json:"auto_response_template"`
	Timezone             string    `json:"timezone"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Default returns the configuration synthesized when none is stored.
func Default() Config {
	return Config{
		Enabled:              true,
		ActiveOutsideHours:   true,
		WorkingHoursStart:    DefaultWorkingHoursStart,
		WorkingHoursEnd:      DefaultWorkingHoursEnd,
		WorkingDays:          DefaultWorkingDays(),
		AutoResponseEnabled:  true,
		AutoResponseTemplate: DefaultAutoResponseTemplate,
		Timezone:             DefaultTimezone,
	}
}

// DefaultWorkingDays is Monday through Friday.
func DefaultWorkingDays() []int {
	return []int{schedule.Monday, schedule.Tuesday, schedule.Wednesday, schedule.Thursday, schedule.Friday}
}

// Normalize fills missing or malformed fields with defaults. Booleans are left
// untouched; stores map NULL columns to their defaults before calling it.
func (c Config) Normalize() Config {
	if schedule.ValidClock(schedule.NormalizeClock(c.WorkingHoursStart)) {
		c.WorkingHoursStart = schedule.NormalizeClock(c.WorkingHoursStart)
	} else {
		c.WorkingHoursStart = DefaultWorkingHoursStart
	}
	if schedule.ValidClock(schedule.NormalizeClock(c.WorkingHoursEnd)) {
		c.WorkingHoursEnd = schedule.NormalizeClock(c.WorkingHoursEnd)
	} else {
		c.WorkingHoursEnd = DefaultWorkingHoursEnd
	}
	c.WorkingDays = schedule.NormalizeDays(c.WorkingDays)
	if len(c.WorkingDays) == 0 {
		c.WorkingDays = DefaultWorkingDays()
	}
	if strings.TrimSpace(c.AutoResponseTemplate) == "" {
		c.AutoResponseTemplate = DefaultAutoResponseTemplate
	}
	c.Timezone = strings.TrimSpace(c.Timezone)
	if _, err := time.LoadLocation(c.Timezone); c.Timezone == "" || err != nil {
		c.Timezone = DefaultTimezone
	}
	return c
}

// Validate rejects values an administrator should correct rather than have
// silently replaced.
func (c Config) Validate() error {
	if !schedule.ValidClock(c.WorkingHoursStart) {
		return fmt.Errorf("%w: working_hours_start %q must be HH:MM", ErrInvalid, c.WorkingHoursStart)
	}
	if !schedule.ValidClock(c.WorkingHoursEnd) {
		return fmt.Errorf("%w: working_hours_end %q must be HH:MM", ErrInvalid, c.WorkingHoursEnd)
	}
	if schedule.NormalizeClock(c.WorkingHoursStart) > schedule.NormalizeClock(c.WorkingHoursEnd) {
		return fmt.Errorf("%w: working_hours_start must not be after working_hours_end", ErrInvalid)
	}
	if err := schedule.ValidateDays(c.WorkingDays); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalid, c.Timezone)
		}
	}
	return nil
}

// WorkingHours converts the record into a schedule window.
func (c Config) WorkingHours() schedule.WorkingHours {
	loc, err := time.LoadLocation(c.Timezone)
	if c.Timezone == "" || err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	return schedule.WorkingHours{
		Days:     c.WorkingDays,
		Start:    c.WorkingHoursStart,
		End:      c.WorkingHoursEnd,
		Location: loc,
	}
}

// IsWorkingTime reports whether now falls inside the configured window.
func (c Config) IsWorkingTime(now time.Time) bool {
	return schedule.Evaluate(c.WorkingHours(), now)
}
