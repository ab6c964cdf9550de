package functions

import (
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/room4-2/voicebank/mockdata"
)

// Tool names exposed to the agent
const (
	ListAccountsName     = "list_accounts"
	GetBalanceName       = "get_balance"
	RecentSpendName      = "recent_spend"
	MoneyLeftName        = "money_left"
	QuickLoanOptionsName = "quick_loan_options"
)

const (
	defaultSpendDays  = 30
	defaultLoanAmount = 50000.0
	defaultLoanTerm   = 24
	maxSpendItems     = 20
)

// Quoted annual rates for quick loans
var loanAPRs = []float64{0.079, 0.099, 0.129}

func accountNameSchema() *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeString,
		Description: "Account name, e.g. 'Everyday' or 'Savings'. Omit for all accounts.",
	}
}

// ListAccountsFunctionDeclaration returns the function declaration for Gemini
func ListAccountsFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ListAccountsName,
		Description: "Return all bank accounts with id, name, currency and balance.",
	}
}

// GetBalanceFunctionDeclaration returns the function declaration for Gemini
func GetBalanceFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        GetBalanceName,
		Description: "Get the balance of one account by name, or a summary across all accounts.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"account_name": accountNameSchema()},
		},
	}
}

// RecentSpendFunctionDeclaration returns the function declaration for Gemini
func RecentSpendFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        RecentSpendName,
		Description: "Total spend (negative transactions) in the last N days, optionally for one account.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"days": {
					Type:        genai.TypeInteger,
					Description: "Window in days, default 30.",
				},
				"account_name": accountNameSchema(),
			},
		},
	}
}

// MoneyLeftFunctionDeclaration returns the function declaration for Gemini
func MoneyLeftFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        MoneyLeftName,
		Description: "Current available money, for one account or summarized.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"account_name": accountNameSchema()},
		},
	}
}

// QuickLoanOptionsFunctionDeclaration returns the function declaration for Gemini
func QuickLoanOptionsFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        QuickLoanOptionsName,
		Description: "Non-binding quick loan quotes for an amount and term.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"amount": {
					Type:        genai.TypeNumber,
					Description: "Loan amount in NOK, default 50000.",
				},
				"term_months": {
					Type:        genai.TypeInteger,
					Description: "Term in months, default 24.",
				},
			},
		},
	}
}

// Declarations lists every banking tool
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		ListAccountsFunctionDeclaration(),
		GetBalanceFunctionDeclaration(),
		RecentSpendFunctionDeclaration(),
		MoneyLeftFunctionDeclaration(),
		QuickLoanOptionsFunctionDeclaration(),
	}
}

// Toolbox answers tool calls from the demo dataset
type Toolbox struct {
	data *mockdata.Dataset
	now  func() time.Time
}

// NewToolbox creates a toolbox over the dataset
func NewToolbox(data *mockdata.Dataset) *Toolbox {
	return &Toolbox{data: data, now: time.Now}
}

// WithClock replaces the time source used for spend windows
func (t *Toolbox) WithClock(now func() time.Time) *Toolbox {
	t.now = now
	return t
}

// Call dispatches a tool call by name. Unknown tools return an error payload, not a Go error,
// so the model can recover.
func (t *Toolbox) Call(name string, args map[string]any) map[string]any {
	switch name {
	case ListAccountsName:
		return map[string]any{"accounts": t.ListAccounts()}
	case GetBalanceName, MoneyLeftName:
		return t.GetBalance(argString(args, "account_name"))
	case RecentSpendName:
		return t.RecentSpend(argInt(args, "days", defaultSpendDays), argString(args, "account_name"))
	case QuickLoanOptionsName:
		return t.QuickLoanOptions(argFloat(args, "amount", defaultLoanAmount), argInt(args, "term_months", defaultLoanTerm))
	default:
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", name)}
	}
}

// ListAccounts returns every account
func (t *Toolbox) ListAccounts() []mockdata.Account {
	return t.data.Accounts
}

// GetBalance returns one account's balance, or the total when name is empty
func (t *Toolbox) GetBalance(accountName string) map[string]any {
	if accountName != "" {
		a, ok := t.data.AccountByName(accountName)
		if !ok {
			return map[string]any{"error": fmt.Sprintf("Account '%s' not found", accountName)}
		}
		return map[string]any{"account": a.Name, "balance": a.Balance, "currency": a.Currency}
	}
	return map[string]any{
		"total_balance": round2(t.data.TotalBalance()),
		"currency":      mockdata.DefaultCurrency,
		"accounts":      t.data.Accounts,
	}
}

// RecentSpend sums outgoing transactions dated within the last days
func (t *Toolbox) RecentSpend(days int, accountName string) map[string]any {
	if days <= 0 {
		days = defaultSpendDays
	}
	cutoff := t.now().AddDate(0, 0, -days)

	var targetID string
	if accountName != "" {
		if a, ok := t.data.AccountByName(accountName); ok {
			targetID = a.ID
		}
	}

	spend := 0.0
	items := make([]mockdata.Transaction, 0)
	for _, tx := range t.data.Transactions {
		if targetID != "" && tx.AccountID != targetID {
			continue
		}
		date, err := time.ParseInLocation("2006-01-02", tx.Date, cutoff.Location())
		if err != nil {
			continue
		}
		if !date.Before(cutoff) && tx.Amount < 0 {
			spend += -tx.Amount
			items = append(items, tx)
		}
	}
	if len(items) > maxSpendItems {
		items = items[:maxSpendItems]
	}

	return map[string]any{
		"days":         days,
		"spend":        round2(spend),
		"currency":     mockdata.DefaultCurrency,
		"transactions": items,
	}
}

// LoanOffer is one quick loan quote
type LoanOffer struct {
	Provider       string  `json:"provider"`
	APR            float64 `json:"apr"`
	MonthlyPayment float64 `json:"monthly_payment"`
	TermMonths     int     `json:"term_months"`
	TotalPayment   float64 `json:"total_payment"`
}

// QuickLoanOptions quotes an annuity loan at each rate
func (t *Toolbox) QuickLoanOptions(amount float64, termMonths int) map[string]any {
	if amount <= 0 {
		amount = defaultLoanAmount
	}
	if termMonths <= 0 {
		termMonths = defaultLoanTerm
	}

	offers := make([]LoanOffer, 0, len(loanAPRs))
	for _, apr := range loanAPRs {
		payment := annuityPayment(amount, apr/12, termMonths)
		offers = append(offers, LoanOffer{
			Provider:       fmt.Sprintf("AI Bank %d bps", int(math.Round(apr*1000))),
			APR:            round2(apr * 100),
			MonthlyPayment: round2(payment),
			TermMonths:     termMonths,
			TotalPayment:   round2(payment * float64(termMonths)),
		})
	}

	return map[string]any{
		"amount":      amount,
		"term_months": termMonths,
		"currency":    mockdata.DefaultCurrency,
		"offers":      offers,
	}
}

func annuityPayment(principal, monthlyRate float64, n int) float64 {
	if monthlyRate == 0 {
		return principal / float64(n)
	}
	growth := math.Pow(1+monthlyRate, float64(n))
	return principal * (monthlyRate * growth) / (growth - 1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func argFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}
