package abook

import "strings"

// Record holds one contact. It is a value: copies never share state.
type Record struct {
	Name     string
	Phone    string
	Email    string
	Address  string
	Birthday string
}

func NewRecord(name, phone, email, address, birthday string) Record {
	return Record{
		Name:     name,
		Phone:    phone,
		Email:    email,
		Address:  address,
		Birthday: birthday,
	}
}

// Fields returns the fields in backing file order.
func (r Record) Fields() [5]string {
	return [5]string{r.Name, r.Phone, r.Email, r.Address, r.Birthday}
}

func recordFromFields(f [5]string) Record {
	return NewRecord(f[0], f[1], f[2], f[3], f[4])
}

func (r Record) Equal(other Record) bool {
	return r == other
}

// HasDelimiters reports whether any field holds a comma or a line break,
// which the legacy file format cannot represent.
func (r Record) HasDelimiters() bool {
	for _, f := range r.Fields() {
		if strings.ContainsAny(f, ",\r\n") {
			return true
		}
	}

	return false
}

func (r Record) String() string {
	return r.Name + "  " + r.Phone + "   " + r.Email + "   " + r.Address + "   " + r.Birthday
}
