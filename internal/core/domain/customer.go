package domain

import "time"

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleMerchant Role = "MERCHANT"
	RoleAdmin    Role = "ADMIN"
)

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusBlocked AccountStatus = "BLOCKED"
)

type Customer struct {
	ID        int64
	Email     string
	Role      Role
	Status    AccountStatus
	CreatedAt time.Time
}

// CanPlaceOrders reports whether the account may check out.
func (c Customer) CanPlaceOrders() bool {
	return c.Role == RoleCustomer && c.Status == AccountStatusActive
}

type Address struct {
	ID         int64
	CustomerID int64
	Line1      string
	City       string
	PostalCode string
	Country    string
}

// Actor is the authenticated caller of a read operation.
type Actor struct {
	ID   int64
	Role Role
}
