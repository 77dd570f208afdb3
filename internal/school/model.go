package school

import (
	"time"

	"github.com/uptrace/bun"
)

type School struct {
	bun.BaseModel `bun:"table:schools,alias:s"`

	ID        int       `bun:"id,pk,type:integer" json:"id"`
	Name      string    `bun:"name,notnull,type:varchar(255)" json:"name"`
	Address   string    `bun:"address,notnull,type:text" json:"address"`
	Latitude  float64   `bun:"latitude,notnull,type:numeric(10,6)" json:"latitude"`
	Longitude float64   `bun:"longitude,notnull,type:numeric(10,6)" json:"longitude"`
	CreatedAt time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
}

// SchoolDistance is a school annotated with its distance in km from a query point.
type SchoolDistance struct {
	School
	Distance float64 `json:"distance"`
}

const (
	EventSchoolCreated = "school.created"
	EventSchoolDeleted = "school.deleted"
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SchoolID   int       `json:"school_id"`
	School     *School   `json:"school,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
