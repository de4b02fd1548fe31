package customer

// Event types
const (
	EventTypeNameAdded    = "NameAdded"
	EventTypeEmailUpdated = "EmailUpdated"
)

// Current schema versions
const (
	NameAddedVersion    = "1.0.1"
	EmailUpdatedVersion = "1.0"
)

// NameAdded событие присвоения имени клиенту
type NameAdded struct {
	Name string `json:"name"`
}

// EventType возвращает тип события
func (e *NameAdded) EventType() string { return EventTypeNameAdded }

// EventVersion возвращает версию схемы события
func (e *NameAdded) EventVersion() string { return NameAddedVersion }

// EmailUpdated событие изменения email клиента
type EmailUpdated struct {
	NewEmail string `json:"new_email"`
}

// EventType возвращает тип события
func (e *EmailUpdated) EventType() string { return EventTypeEmailUpdated }

// EventVersion возвращает версию схемы события
func (e *EmailUpdated) EventVersion() string { return EmailUpdatedVersion }
