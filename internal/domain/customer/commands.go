package customer

// AddName присваивает клиенту имя
type AddName struct {
	Name string
}

// CommandName возвращает имя команды
func (AddName) CommandName() string { return "AddCustomerName" }

// UpdateEmail изменяет email клиента
type UpdateEmail struct {
	NewEmail string
}

// CommandName возвращает имя команды
func (UpdateEmail) CommandName() string { return "UpdateEmail" }
