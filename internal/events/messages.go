package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"splitledger/internal/core"
)

const (
	TypeExpenseCreated = "expense.created"
	TypeExpenseDeleted = "expense.deleted"
)

// ExpenseEvent is the message published after an expense write
// commits. Deleted events carry the expense fields so consumers can
// act without the row, which no longer exists.
type ExpenseEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	ExpenseID   int64     `json:"expense_id"`
	GroupID     int64     `json:"group_id"`
	PayerID     int64     `json:"payer_id"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewExpenseCreated builds the event for a freshly recorded expense.
func NewExpenseCreated(e core.Expense) *ExpenseEvent {
	return newEvent(TypeExpenseCreated, e)
}

// NewExpenseDeleted builds the event for a removed expense.
func NewExpenseDeleted(e core.Expense) *ExpenseEvent {
	return newEvent(TypeExpenseDeleted, e)
}

func newEvent(eventType string, e core.Expense) *ExpenseEvent {
	return &ExpenseEvent{
		EventID:     uuid.NewString(),
		Type:        eventType,
		ExpenseID:   e.ID,
		GroupID:     e.GroupID,
		PayerID:     e.PaidByUserID,
		Description: e.Description,
		Amount:      e.Amount,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (m *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseEventFromJSON creates an event from JSON bytes
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var msg ExpenseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
