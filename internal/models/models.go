package models

import "time"

// FillState marks how a fill request ended.
type FillState string

const (
	FillStateDone     FillState = "done"
	FillStateRejected FillState = "rejected"
)

// EventStatus enumerates per-event outcomes.
type EventStatus string

const (
	EventStatusCreated EventStatus = "created"
	EventStatusFailed  EventStatus = "failed"
)

// FillRequest records one orchestrated fill run.
type FillRequest struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	Description       string `gorm:"type:text"`
	StartDate         time.Time
	EndDate           time.Time
	Count             int
	Timezone          string `gorm:"type:varchar(64)"`
	EarliestStartHour int
	State             FillState `gorm:"type:varchar(16);index"`
	RequestedCount    int
	SuccessfulCount   int
	FailedCount       int
	DurationMS        int64
	Events            []FillEvent `gorm:"foreignKey:FillRequestID"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FillEvent is one event outcome belonging to a fill request.
type FillEvent struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	FillRequestID string `gorm:"type:uuid;index"`
	Title         string
	StartsAt      time.Time
	EndsAt        time.Time
	Status        EventStatus `gorm:"type:varchar(16);index"`
	ExternalID    string      `gorm:"index"`
	FailReason    string      `gorm:"type:text"`
	Placeholder   bool
	CreatedAt     time.Time
}

// CalendarEvent is a row in the local calendar-store backend.
type CalendarEvent struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	Title       string    `gorm:"index"`
	Description string    `gorm:"type:text"`
	StartsAt    time.Time `gorm:"index"`
	EndsAt      time.Time
	Timezone    string `gorm:"type:varchar(64)"`
	Tag         string `gorm:"type:varchar(64);index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FillSchedule re-runs a fill request template on a cron expression.
// DaysAhead controls the width of the generated date range: each trigger
// fills [today, today+DaysAhead].
type FillSchedule struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	Name              string `gorm:"uniqueIndex"`
	CronExpr          string `gorm:"type:varchar(64)"`
	Description       string `gorm:"type:text"`
	Count             int
	DaysAhead         int
	Timezone          string `gorm:"type:varchar(64)"`
	EarliestStartHour int
	Enabled           bool `gorm:"index"`
	LastRunAt         *time.Time
	LastRequestID     string `gorm:"type:uuid"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
