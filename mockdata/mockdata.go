package mockdata

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

//go:embed accounts.json
var accountsJSON []byte

// DefaultCurrency is used when an account omits one
const DefaultCurrency = "NOK"

// Account is a demo bank account
type Account struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
}

// Transaction is a demo ledger entry; negative amounts are spend
type Transaction struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"accountId"`
	Date        string  `json:"date"` // YYYY-MM-DD
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Dataset is the demo data served to the console and the agent
type Dataset struct {
	Accounts     []Account     `json:"accounts"`
	Transactions []Transaction `json:"transactions"`
}

// Raw returns the embedded JSON document
func Raw() []byte {
	return accountsJSON
}

// Load parses the embedded dataset
func Load() (*Dataset, error) {
	return Parse(accountsJSON)
}

// Parse decodes a dataset document
func Parse(data []byte) (*Dataset, error) {
	var d Dataset
	if err := sonic.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse demo accounts: %w", err)
	}
	for i := range d.Accounts {
		if d.Accounts[i].Currency == "" {
			d.Accounts[i].Currency = DefaultCurrency
		}
	}
	return &d, nil
}

// AccountByName finds an account case-insensitively
func (d *Dataset) AccountByName(name string) (Account, bool) {
	for _, a := range d.Accounts {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Account{}, false
}

// TotalBalance sums all account balances
func (d *Dataset) TotalBalance() float64 {
	var total float64
	for _, a := range d.Accounts {
		total += a.Balance
	}
	return total
}
