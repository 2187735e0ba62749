// Package domain defines the persistence models for user accounts, study
// requests, generated study materials, the credit ledger, and dashboard
// items. These types are mapped with GORM and form the core data layer
// of the study-material application.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription tiers.
const (
	TierFree      = "free"
	TierPro       = "pro"
	TierUnlimited = "unlimited"
)

// Study request statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Study material statuses.
const (
	MaterialGenerating = "generating"
	MaterialReady      = "ready"
	MaterialFailed     = "failed"
)

// Request purposes and difficulties accepted by the API.
var (
	Purposes     = []string{"exam", "job", "practice", "coding", "other"}
	Difficulties = []string{"Easy", "Medium", "Hard"}
)

// ValidPurpose reports whether p is one of the accepted request purposes.
func ValidPurpose(p string) bool {
	for _, v := range Purposes {
		if v == p {
			return true
		}
	}
	return false
}

// ValidDifficulty reports whether d is one of the accepted difficulties.
func ValidDifficulty(d string) bool {
	for _, v := range Difficulties {
		if v == d {
			return true
		}
	}
	return false
}

// User is a single account created on first sign-in, keyed by the external
// identity-provider subject. Credits and used credits are two independent
// counters: top-ups only ever raise Credits, consumption only ever raises
// UsedCredits, so total-granted and total-spent stay reconstructable.
// Remaining capacity (Credits - UsedCredits) may be negative and must be
// treated as "no capacity" by callers.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ExternalID: identity-provider subject; unique, set once.
//   - Email: unique; required at first sign-in.
//   - Credits / UsedCredits: ledger counters (see above).
//   - SubscriptionTier: free | pro | unlimited.
//   - SubscriptionExpires: only meaningful for tier=pro.
type User struct {
	ID                  string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	ExternalID          string     `json:"external_id"          gorm:"type:varchar(128);not null;uniqueIndex:ux_users_external"`
	Name                string     `json:"name"                 gorm:"type:varchar(100);not null"`
	Email               string     `json:"email"                gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	Credits             int        `json:"credits"              gorm:"not null;default:5"`
	UsedCredits         int        `json:"used_credits"         gorm:"not null;default:0"`
	SubscriptionTier    string     `json:"subscription_tier"    gorm:"type:varchar(20);not null;default:'free';check:subscription_tier IN ('free','pro','unlimited')"`
	SubscriptionExpires *time.Time `json:"subscription_expires"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Remaining returns the effective generation capacity. It may be negative.
func (u *User) Remaining() int { return u.Credits - u.UsedCredits }

// StudyRequest is one generation attempt. It moves through
// queued → processing → {completed | failed}, or queued → canceled, and is
// immutable once terminal; a retry is a new request, never a mutation of a
// finished one.
type StudyRequest struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:char(36);not null;index:idx_user_requests"`
	Purpose     string    `json:"purpose"      gorm:"type:varchar(16);not null;check:purpose IN ('exam','job','practice','coding','other')"`
	Topic       string    `json:"topic"        gorm:"type:text;not null"`
	Difficulty  string    `json:"difficulty"   gorm:"type:varchar(8);not null;check:difficulty IN ('Easy','Medium','Hard')"`
	Status      string    `json:"status"       gorm:"type:varchar(16);not null;default:'queued';check:status IN ('queued','processing','completed','failed','canceled')"`
	Model       string    `json:"model"        gorm:"type:varchar(100)"`
	Prompt      string    `json:"prompt"       gorm:"type:text"`
	Output      string    `json:"output"       gorm:"type:text"`
	Error       string    `json:"error"        gorm:"type:text"`
	CreditsUsed int       `json:"credits_used" gorm:"not null;default:1"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// User is the request owner. Requests are cascade-deleted with the user.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StudyRequest.
func (StudyRequest) TableName() string { return "study_requests" }

// Terminal reports whether the request has reached a final state.
func (r *StudyRequest) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// StudyMaterial is the artifact produced when a request completes. The
// request link is unique: a request yields at most one material, and the
// chapter content is immutable once written.
type StudyMaterial struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	RequestID    *string        `json:"request_id"    gorm:"type:char(36);uniqueIndex:ux_material_request"`
	CourseID     string         `json:"course_id"     gorm:"type:varchar(64);not null"`
	Topic        string         `json:"topic"         gorm:"type:varchar(255);not null"`
	Difficulty   string         `json:"difficulty"    gorm:"column:difficulty_level;type:varchar(16);not null;default:'Easy'"`
	CourseLayout datatypes.JSON `json:"course_layout" gorm:"type:json"`
	CreatedBy    string         `json:"created_by"    gorm:"type:char(36);not null"`
	Status       string         `json:"status"        gorm:"type:varchar(32);not null;default:'generating'"`
	CreatedAt    time.Time      `json:"created_at"`

	// Request is the originating generation attempt; deleting it removes
	// the material.
	Request *StudyRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StudyMaterial.
func (StudyMaterial) TableName() string { return "study_materials" }

// LedgerEntry is an immutable audit record of a single credit or debit
// event. Entries are append-only: they are never mutated or deleted except
// by the cascade when the owning user is removed. Positive deltas are
// grants (packs, bonuses, refunds); negative deltas are consumption.
type LedgerEntry struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index:idx_user_ledger"`
	RequestID *string   `json:"request_id" gorm:"type:char(36);index"`
	Delta     int       `json:"delta"      gorm:"not null"`
	Reason    string    `json:"reason"     gorm:"type:varchar(80);not null"`
	CreatedAt time.Time `json:"created_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	// Request association survives request deletion (SET NULL) so the
	// audit trail stays intact.
	Request *StudyRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for LedgerEntry.
func (LedgerEntry) TableName() string { return "credit_ledger" }

// DashboardItem is a user's personal tracking record for a material they
// chose to keep. At most one item exists per (user, material) pair; the
// progress percentage is mutated independently of the generation flow and
// never feeds back into the ledger.
type DashboardItem struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID     string    `json:"user_id"     gorm:"type:char(36);not null;index;uniqueIndex:ux_dashboard_user_material,priority:1"`
	MaterialID string    `json:"material_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_dashboard_user_material,priority:2"`
	Progress   int       `json:"progress"    gorm:"not null;default:0;check:progress BETWEEN 0 AND 100"`
	RequestID  *string   `json:"request_id"  gorm:"type:char(36)"`
	CreatedAt  time.Time `json:"created_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	// Material is the tracked artifact; items disappear with it.
	Material StudyMaterial `json:"-" gorm:"foreignKey:MaterialID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	Request *StudyRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for DashboardItem.
func (DashboardItem) TableName() string { return "dashboard_items" }
