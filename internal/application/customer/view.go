package customer

import (
	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/customer"
	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// ViewName is the default table (or collection) of the customer view.
const ViewName = "customer_view"

// View is the queryable read model of a customer.
type View struct {
	CustomerID   string `json:"customer_id"    bson:"customer_id"`
	Name         string `json:"name"           bson:"name"`
	Email        string `json:"email"          bson:"email"`
	EmailChanges int    `json:"email_changes"  bson:"email_changes"`
	LastSequence uint64 `json:"last_sequence"  bson:"last_sequence"`
}

var _ appcore.View = (*View)(nil)

// NewView creates an empty customer view.
func NewView() *View {
	return &View{}
}

// Update folds a committed customer event into the view.
func (v *View) Update(env event.Envelope) {
	v.CustomerID = env.AggregateID
	v.LastSequence = env.Sequence

	switch e := env.Payload.(type) {
	case *customer.NameAdded:
		v.Name = e.Name
	case *customer.EmailUpdated:
		v.Email = e.NewEmail
		v.EmailChanges++
	}
}
