package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/nbfc-labs/loanflow/coreengine/typeutil"
)

// ===== CUSTOMER RECORDS =====

// Customer is one record in the lender's book.
type Customer struct {
	CustomerID       string `json:"customer_id"`
	Name             string `json:"name"`
	Age              int    `json:"age"`
	City             string `json:"city"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	PreApprovedLimit int    `json:"pre_approved_limit"`
	SalaryMonthly    int    `json:"salary_monthly"`
	CreditScore      int    `json:"credit_score"`
}

var customers = map[string]Customer{
	"CUST001": {"CUST001", "Asha Verma", 32, "Pune", "9810000001", "asha@example.com", 300000, 60000, 745},
	"CUST002": {"CUST002", "Rahul Sharma", 29, "Delhi", "9810000002", "rahul@example.com", 200000, 45000, 712},
	"CUST003": {"CUST003", "Sneha Iyer", 35, "Bengaluru", "9810000003", "sneha@example.com", 400000, 85000, 780},
	"CUST004": {"CUST004", "Vikram Singh", 40, "Lucknow", "9810000004", "vikram@example.com", 150000, 30000, 690},
	"CUST005": {"CUST005", "Nisha Patel", 27, "Ahmedabad", "9810000005", "nisha@example.com", 250000, 52000, 710},
	"CUST006": {"CUST006", "Arjun Rao", 31, "Hyderabad", "9810000006", "arjun@example.com", 350000, 70000, 760},
	"CUST007": {"CUST007", "Meera Desai", 30, "Surat", "9810000007", "meera@example.com", 180000, 40000, 695},
	"CUST008": {"CUST008", "Karan Mehta", 33, "Mumbai", "9810000008", "karan@example.com", 320000, 65000, 735},
	"CUST009": {"CUST009", "Priya Nair", 28, "Kochi", "9810000009", "priya@example.com", 280000, 48000, 725},
	"CUST010": {"CUST010", "Sourav Ghosh", 36, "Kolkata", "9810000010", "sourav@example.com", 500000, 90000, 790},
}

func lookupCustomer(id string) (Customer, error) {
	c, ok := customers[id]
	if !ok {
		return Customer{}, fmt.Errorf("%w: customer %s", ErrNotFound, id)
	}
	return c, nil
}

func (c Customer) toMap() map[string]any {
	return map[string]any{
		"customer_id":        c.CustomerID,
		"name":               c.Name,
		"age":                c.Age,
		"city":               c.City,
		"phone":              c.Phone,
		"email":              c.Email,
		"pre_approved_limit": c.PreApprovedLimit,
		"salary_monthly":     c.SalaryMonthly,
		"credit_score":       c.CreditScore,
	}
}

// ComputeEMI calculates the equated monthly installment for a principal at
// an annual percentage rate over n months.
func ComputeEMI(principal float64, annualRate float64, months int) float64 {
	r := annualRate / 12.0 / 100.0
	if r == 0 {
		return principal / float64(months)
	}
	factor := math.Pow(1+r, float64(months))
	return principal * r * factor / (factor - 1)
}

// ===== TOOL REGISTRATION =====

// RegisterLoanTools registers the loan-servicing toolset on the executor.
func RegisterLoanTools(e *Executor, store *ResourceStore) error {
	defs := []*Definition{
		{
			Name:        "get_customer_info",
			Description: "Fetch customer basic info",
			Handler:     getCustomerInfo,
		},
		{
			Name:        "verify_kyc",
			Description: "Verify phone and address for a customer",
			Handler:     verifyKYC,
		},
		{
			Name:        "get_credit_score",
			Description: "Return credit score for customer",
			Handler:     getCreditScore,
		},
		{
			Name:        "underwrite_loan",
			Description: "Underwriting decision using stated rules",
			Handler:     underwriteLoan,
		},
		{
			Name:        "upload_salary_slip",
			Description: "Store a base64-encoded salary slip",
			Handler:     uploadSalarySlip(store),
		},
		{
			Name:        "generate_sanction_letter",
			Description: "Generate a sanction letter PDF and return a resource URL",
			Handler:     generateSanctionLetter(store),
		},
		{
			Name:        "read_resource",
			Description: "Read a stored document by resource URI",
			Handler:     readResource(store),
		},
		{
			Name:        "log_event",
			Description: "Append an audit event to the audit log",
			Handler:     logEvent(store),
		},
		{
			Name:        "health",
			Description: "Simple health check",
			Handler:     health,
		},
	}
	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// ===== HANDLERS =====

func getCustomerInfo(_ context.Context, params map[string]any) (map[string]any, error) {
	id := typeutil.SafeStringDefault(params["customer_id"], "")
	cust, err := lookupCustomer(id)
	if err != nil {
		return nil, err
	}
	return cust.toMap(), nil
}

func verifyKYC(_ context.Context, params map[string]any) (map[string]any, error) {
	id := typeutil.SafeStringDefault(params["customer_id"], "")
	phone := typeutil.SafeStringDefault(params["phone"], "")
	cust, err := lookupCustomer(id)
	if err != nil {
		return nil, err
	}
	// Address verification is mocked as always true.
	return map[string]any{
		"phone_verified":   cust.Phone == phone,
		"address_verified": true,
	}, nil
}

func getCreditScore(_ context.Context, params map[string]any) (map[string]any, error) {
	id := typeutil.SafeStringDefault(params["customer_id"], "")
	cust, err := lookupCustomer(id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"credit_score": cust.CreditScore}, nil
}

// underwriteLoan applies the underwriting rules:
//
//	score < 700                 -> reject
//	requested <= limit          -> approve
//	requested <= 2x limit       -> needs salary evidence, then EMI <= 50% salary
//	requested >  2x limit       -> reject
func underwriteLoan(_ context.Context, params map[string]any) (map[string]any, error) {
	id := typeutil.SafeStringDefault(params["customer_id"], "")
	cust, err := lookupCustomer(id)
	if err != nil {
		return nil, err
	}

	requested := typeutil.SafeIntDefault(params["requested_amount"], 0)
	tenure := typeutil.SafeIntDefault(params["tenure_months"], 36)
	annualRate := typeutil.SafeFloat64Default(params["annual_rate"], 12.0)
	if requested <= 0 {
		return nil, fmt.Errorf("requested_amount must be positive, got %d", requested)
	}
	if tenure <= 0 {
		return nil, fmt.Errorf("tenure_months must be positive, got %d", tenure)
	}

	if cust.CreditScore < 700 {
		return map[string]any{
			"decision":     "reject",
			"reason":       "credit_score_below_700",
			"credit_score": cust.CreditScore,
		}, nil
	}

	if requested <= cust.PreApprovedLimit {
		emi := ComputeEMI(float64(requested), annualRate, tenure)
		return map[string]any{
			"decision": "approve",
			"emi":      emi,
			"reason":   "within_pre_approved_limit",
		}, nil
	}

	if requested <= 2*cust.PreApprovedLimit {
		salaryProvided, hasSalary := typeutil.SafeInt(params["salary_provided"])
		slipResource := typeutil.SafeStringDefault(params["salary_slip_resource"], "")
		if slipResource == "" && !hasSalary {
			return map[string]any{
				"decision": "require_salary_slip",
				"reason":   "salary_slip_required",
			}, nil
		}

		salary := cust.SalaryMonthly
		if hasSalary {
			salary = salaryProvided
		}
		emi := ComputeEMI(float64(requested), annualRate, tenure)
		if emi <= 0.5*float64(salary) {
			return map[string]any{
				"decision": "approve",
				"emi":      emi,
				"reason":   "emi_within_50pct_salary",
			}, nil
		}
		return map[string]any{
			"decision":       "reject",
			"reason":         "emi_exceeds_50pct_salary",
			"emi":            emi,
			"salary_monthly": salary,
		}, nil
	}

	return map[string]any{
		"decision":  "reject",
		"reason":    "amount_exceeds_2x_pre_approved",
		"pre_limit": cust.PreApprovedLimit,
		"requested": requested,
	}, nil
}

func uploadSalarySlip(store *ResourceStore) Handler {
	return func(_ context.Context, params map[string]any) (map[string]any, error) {
		id := typeutil.SafeStringDefault(params["customer_id"], "")
		if _, err := lookupCustomer(id); err != nil {
			return nil, err
		}
		filename := typeutil.SafeStringDefault(params["filename"], "")
		ext := filepath.Ext(filename)
		if ext == "" {
			ext = ".pdf"
		}
		raw, err := base64.StdEncoding.DecodeString(typeutil.SafeStringDefault(params["content_base64"], ""))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 content: %w", err)
		}
		storedName := fmt.Sprintf("salary_%s_%s%s", id, uuid.New().String()[:16], ext)
		resource, path, err := store.Put(storedName, raw)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"resource": resource,
			"path":     path,
		}, nil
	}
}

func generateSanctionLetter(store *ResourceStore) Handler {
	return func(_ context.Context, params map[string]any) (map[string]any, error) {
		id := typeutil.SafeStringDefault(params["customer_id"], "")
		cust, err := lookupCustomer(id)
		if err != nil {
			return nil, err
		}
		amount := typeutil.SafeIntDefault(params["amount"], 0)
		tenure := typeutil.SafeIntDefault(params["tenure_months"], 36)
		rate := typeutil.SafeFloat64Default(params["interest_rate"], 12.0)
		if amount <= 0 {
			return nil, fmt.Errorf("amount must be positive, got %d", amount)
		}

		storedName := fmt.Sprintf("sanction_%s_%s.pdf", id, uuid.New().String()[:16])
		path, err := store.Path(storedName)
		if err != nil {
			return nil, err
		}
		if err := writeSanctionPDF(path, cust, amount, tenure, rate); err != nil {
			return nil, fmt.Errorf("generate sanction letter: %w", err)
		}
		return map[string]any{
			"resource": resourceScheme + storedName,
			"path":     path,
		}, nil
	}
}

// writeSanctionPDF renders the letter through pdfcpu's create-from-JSON
// pipeline.
func writeSanctionPDF(path string, cust Customer, amount, tenure int, rate float64) error {
	lines := []map[string]any{
		textLine("Sanction Letter", 50, 800, "Helvetica-Bold", 14),
		textLine(fmt.Sprintf("Date: %s", time.Now().UTC().Format("2006-01-02")), 50, 770, "Helvetica", 11),
		textLine(fmt.Sprintf("Customer: %s (ID: %s)", cust.Name, cust.CustomerID), 50, 750, "Helvetica", 11),
		textLine(fmt.Sprintf("Approved Amount: INR %d", amount), 50, 730, "Helvetica", 11),
		textLine(fmt.Sprintf("Tenure: %d months", tenure), 50, 710, "Helvetica", 11),
		textLine(fmt.Sprintf("Interest Rate (annual): %.2f%%", rate), 50, 690, "Helvetica", 11),
		textLine("This sanction letter was generated automatically.", 50, 660, "Helvetica", 11),
	}
	doc := map[string]any{
		"pages": map[string]any{
			"1": map[string]any{
				"content": map[string]any{
					"text": lines,
				},
			},
		},
	}
	spec, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return api.Create(nil, bytes.NewReader(spec), f, nil)
}

func textLine(value string, x, y float64, font string, size int) map[string]any {
	return map[string]any{
		"value":    value,
		"position": []float64{x, y},
		"font": map[string]any{
			"name": font,
			"size": size,
		},
	}
}

func readResource(store *ResourceStore) Handler {
	return func(_ context.Context, params map[string]any) (map[string]any, error) {
		uri := typeutil.SafeStringDefault(params["resource_uri"], "")
		if uri == "" {
			return nil, fmt.Errorf("resource_uri is required")
		}
		data, err := store.Open(uri)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"resource":       uri,
			"content_base64": base64.StdEncoding.EncodeToString(data),
			"size":           len(data),
		}, nil
	}
}

func logEvent(store *ResourceStore) Handler {
	return func(_ context.Context, params map[string]any) (map[string]any, error) {
		event := typeutil.SafeMapStringAnyDefault(params["event"], map[string]any{})
		if err := store.AppendAudit(event); err != nil {
			return nil, err
		}
		return map[string]any{"logged": true}, nil
	}
}

func health(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}, nil
}
