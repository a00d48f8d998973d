package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/pbi"
)

// Result column names. Every query projects with SELECTCOLUMNS so the
// normalized keys are stable whatever the model's own column captions are.
const (
	colEmployee     = "employee_name"
	colPhone        = "phone"
	colStatus       = "status"
	colJoinedAt     = "joined_at"
	colDocDate      = "doc_date"
	colDocNumber    = "doc_number"
	colSumUAH       = "sum_uah"
	colSumUSD       = "sum_usd"
	colAccrualMonth = "accrual_month"
	colPeriod       = "period"
)

const directoryQuery = `EVALUATE
SELECTCOLUMNS(
    'Employees',
    "employee_name", 'Employees'[Employee],
    "phone", 'Employees'[Phone],
    "status", 'Employees'[Status]
)`

// paymentsQuery joins the payment fact table to the inline table of active
// users, keeping only documents dated on or after each user's joined_at.
func paymentsQuery(users []domain.User) string {
	rows := make([]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, fmt.Sprintf("{%s, %s, %s}",
			pbi.Quote(u.PhoneNumber), pbi.Quote(u.EmployeeName), pbi.DateTimeLiteral(u.JoinedAt.UTC())))
	}
	return `DEFINE
VAR __users =
    DATATABLE(
        "phone", STRING,
        "employee_name", STRING,
        "joined_at", DATETIME,
        {
            ` + strings.Join(rows, ",\n            ") + `
        }
    )
EVALUATE
GENERATE(
    __users,
    SELECTCOLUMNS(
        FILTER(
            'Payments',
            'Payments'[Employee] = [employee_name]
                && 'Payments'[DocDate] >= [joined_at]
        ),
        "doc_date", 'Payments'[DocDate],
        "doc_number", 'Payments'[DocNumber],
        "sum_uah", 'Payments'[SumUAH],
        "sum_usd", 'Payments'[SumUSD],
        "accrual_month", 'Payments'[AccrualMonth]
    )
)`
}

const devaluationQuery = `EVALUATE
SELECTCOLUMNS(
    'DevaluationAnalysis',
    "client", 'DevaluationAnalysis'[Client],
    "payment_number", 'DevaluationAnalysis'[PaymentNumber],
    "contract", 'DevaluationAnalysis'[Contract],
    "contract_date", 'DevaluationAnalysis'[ContractDate],
    "payment_date", 'DevaluationAnalysis'[PaymentDate],
    "contract_rate", 'DevaluationAnalysis'[ContractRate],
    "payment_rate", 'DevaluationAnalysis'[PaymentRate],
    "devaluation_percent", 'DevaluationAnalysis'[DevaluationPercent],
    "contract_sum", 'DevaluationAnalysis'[ContractSum],
    "payment_sum", 'DevaluationAnalysis'[PaymentSum],
    "compensation", 'DevaluationAnalysis'[Compensation],
    "manager", 'DevaluationAnalysis'[Manager]
)`

const bonusDocsQuery = `EVALUATE
DISTINCT(
    SELECTCOLUMNS(
        'BonusPayments',
        "doc_number", 'BonusPayments'[DocNumber],
        "period", 'BonusPayments'[Period]
    )
)`

func bonusDocEmployeesQuery(docNumber string) string {
	return `EVALUATE
DISTINCT(
    SELECTCOLUMNS(
        FILTER('BonusPayments', 'BonusPayments'[DocNumber] = ` + pbi.Quote(docNumber) + `),
        "employee_name", 'BonusPayments'[Employee]
    )
)`
}

// birthdaysQuery selects employees whose birthday falls on monthDay ("MM-dd").
func birthdaysQuery(monthDay string) string {
	return `EVALUATE
SELECTCOLUMNS(
    FILTER(
        'Employees',
        NOT ISBLANK('Employees'[Birthday])
            && FORMAT('Employees'[Birthday], "MM-dd") = ` + pbi.Quote(monthDay) + `
    ),
    "employee_name", 'Employees'[Employee]
)`
}
