// Package customer is a sample event-sourced aggregate used by the tools and tests.
package customer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lllypuk/cqrskit/internal/domain/command"
	"github.com/lllypuk/cqrskit/internal/domain/errs"
	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// AggregateType is the stable name of the customer aggregate.
const AggregateType = "Customer"

// Customer представляет клиента, состояние которого восстанавливается из событий
type Customer struct {
	name  string
	email string
}

// New создает пустого клиента
func New() *Customer {
	return &Customer{}
}

// AggregateType возвращает тип агрегата
func (c *Customer) AggregateType() string {
	return AggregateType
}

// Name возвращает имя клиента
func (c *Customer) Name() string {
	return c.name
}

// Email возвращает email клиента
func (c *Customer) Email() string {
	return c.email
}

// Handle проверяет команду и возвращает события
func (c *Customer) Handle(_ context.Context, cmd command.Command) ([]event.Event, error) {
	switch cmd := cmd.(type) {
	case AddName:
		if c.name != "" {
			return nil, fmt.Errorf("%w: a name has already been added for this customer", errs.ErrAlreadyExists)
		}
		if strings.TrimSpace(cmd.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", errs.ErrInvalidInput)
		}
		return []event.Event{&NameAdded{Name: cmd.Name}}, nil

	case UpdateEmail:
		if !strings.Contains(cmd.NewEmail, "@") {
			return nil, fmt.Errorf("%w: invalid email %q", errs.ErrInvalidInput, cmd.NewEmail)
		}
		if cmd.NewEmail == c.email {
			return nil, nil
		}
		return []event.Event{&EmailUpdated{NewEmail: cmd.NewEmail}}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported command %s", errs.ErrInvalidInput, cmd.CommandName())
	}
}

// Apply применяет событие к состоянию
func (c *Customer) Apply(evt event.Event) {
	switch e := evt.(type) {
	case *NameAdded:
		c.name = e.Name
	case *EmailUpdated:
		c.email = e.NewEmail
	}
}

type customerState struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MarshalJSON serializes the state for snapshots.
func (c *Customer) MarshalJSON() ([]byte, error) {
	return json.Marshal(customerState{Name: c.name, Email: c.email})
}

// UnmarshalJSON restores the state from a snapshot.
func (c *Customer) UnmarshalJSON(data []byte) error {
	var state customerState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	c.name = state.Name
	c.email = state.Email
	return nil
}
