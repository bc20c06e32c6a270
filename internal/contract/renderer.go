// Package contract renders a signed or pending agreement as a PDF.
package contract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
)

type Renderer struct {
	brand string
	now   func() time.Time
}

func NewRenderer(brand string) *Renderer {
	return &Renderer{brand: brand, now: time.Now}
}

// Render lays out the stored contract text of app. Applications without a
// generated contract cannot be rendered.
func (r *Renderer) Render(app *models.LoanApplication, c country.Country) ([]byte, error) {
	if strings.TrimSpace(app.ContractText) == "" {
		return nil, errors.NewContractNotSignedError(app.ID)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 22)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, fmt.Sprintf("%s - application %s - page %d", r.brand, app.ID, pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(20, 20, 20)
	pdf.CellFormat(0, 10, tr(r.brand+" Financing Agreement"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 5, tr(c.Name+" - "+c.LegalFramework), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetDrawColor(200, 200, 200)
	pdf.SetFillColor(246, 246, 246)
	pdf.SetTextColor(20, 20, 20)
	rows := [][2]string{
		{"Principal", fmt.Sprintf("%s %.2f", c.Currency, app.Amount)},
		{"Tenure", fmt.Sprintf("%d months", app.Months)},
		{"Monthly repayment", fmt.Sprintf("%s %.2f", c.Currency, app.MonthlyPayment)},
		{"Total repayment", fmt.Sprintf("%s %.2f", c.Currency, app.MonthlyPayment*float64(app.Months))},
		{"Status", string(app.Status)},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(55, 8, row[0], "1", 0, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 8, tr(row[1]), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Times", "", 11)
	for _, para := range strings.Split(strings.ReplaceAll(app.ContractText, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(para) == "" {
			pdf.Ln(3)
			continue
		}
		pdf.MultiCell(0, 5.5, tr(para), "", "L", false)
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	signature := "Not yet signed by the applicant."
	if app.Signed {
		signature = "Signed electronically by the applicant on " + app.UpdatedAt.UTC().Format("2 January 2006") + "."
	}
	pdf.CellFormat(0, 6, signature, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated "+r.now().UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.NewInternalError(err)
	}
	return buf.Bytes(), nil
}

// Filename is the download name for app's agreement.
func Filename(app *models.LoanApplication) string {
	id := app.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "loan-agreement-" + id + ".pdf"
}
