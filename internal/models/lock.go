package models

import "time"

// GlobalScope — замок без привязки к группе (молитвы).
const GlobalScope = "global"

// LockMarker — сессия (дата, единица, охват) финализирована.
type LockMarker struct {
	Date        time.Time `json:"date"`
	Unit        Unit      `json:"unit"`
	Scope       string    `json:"scope"`
	RecordCount int       `json:"recordCount"`
	LockedBy    int64     `json:"lockedBy"`
	LockedAt    time.Time `json:"lockedAt"`
}

// LockScopeFor — class key либо global.
func LockScopeFor(class *ClassIdentity) string {
	if class == nil || class.IsZero() {
		return GlobalScope
	}
	return class.Key()
}

// LockReset — запись аудита ручного снятия замка.
type LockReset struct {
	ID              int64     `json:"id"`
	Date            time.Time `json:"date"`
	Unit            Unit      `json:"unit"`
	Scope           string    `json:"scope"`
	Reason          string    `json:"reason"`
	ResetBy         int64     `json:"resetBy"`
	ResetAt         time.Time `json:"resetAt"`
	DeletedRecords  int       `json:"deletedRecords"`
	ReopenedMakeups int       `json:"reopenedMakeups"` // отработки под замком, вернувшиеся в pending
}
