package order

import (
	"time"

	"github.com/google/uuid"
)

// Command carries the fields common to every order command. Commands are never
// persisted; they only drive the aggregate.
type Command struct {
	CommandID string
	IssuedAt  time.Time
}

func newCommand() Command {
	return Command{
		CommandID: uuid.NewString(),
		IssuedAt:  time.Now().UTC(),
	}
}

type CreateOrderCommand struct {
	Command
	CustomerName  string
	CustomerEmail string
	Items         []ItemInput
}

func NewCreateOrderCommand(customerName, customerEmail string, items []ItemInput) CreateOrderCommand {
	return CreateOrderCommand{
		Command:       newCommand(),
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		Items:         items,
	}
}

type ChangeStatusCommand struct {
	Command
	OrderID   string
	NewStatus Status
}

func NewChangeStatusCommand(orderID string, newStatus Status) ChangeStatusCommand {
	return ChangeStatusCommand{
		Command:   newCommand(),
		OrderID:   orderID,
		NewStatus: newStatus,
	}
}

type CancelCommand struct {
	Command
	OrderID string
	Reason  string
}

func NewCancelCommand(orderID, reason string) CancelCommand {
	return CancelCommand{
		Command: newCommand(),
		OrderID: orderID,
		Reason:  reason,
	}
}

type DeleteCommand struct {
	Command
	OrderID string
}

func NewDeleteCommand(orderID string) DeleteCommand {
	return DeleteCommand{
		Command: newCommand(),
		OrderID: orderID,
	}
}
