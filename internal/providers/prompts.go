package providers

import (
	"fmt"
	"strings"
)

const platformName = "Sg16 Finance"

func faceMatchPrompt(req FaceMatchRequest) string {
	c := req.Country
	var b strings.Builder
	fmt.Fprintf(&b, "You are the biometric security engine of %s for the %s region.\n\n", platformName, c.Code)
	b.WriteString("Compare the face on the government ID (image 1) with the live selfie (image 2).\n")
	fmt.Fprintf(&b, "Image 1 should be a %s.\n", c.IDDocumentName)
	fmt.Fprintf(&b, "Capture device: %s\n\n", req.Device.String())
	b.WriteString("Steps:\n")
	b.WriteString("1. Read the holder's full name from the ID.\n")
	fmt.Fprintf(&b, "2. Confirm image 1 is a genuine %s ID card.\n", c.Name)
	b.WriteString("3. Compare facial landmarks between the ID photo and the selfie.\n")
	b.WriteString("4. Check the selfie for replay signs such as moire patterns or screen glare.\n\n")
	b.WriteString("Reply with JSON only: isMatch (true above 80% confidence), confidence (0-100), ")
	b.WriteString("reason, extractedName, idType.")
	return b.String()
}

func documentPrompt(req DocumentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a forensic document analyst for %s, %s region.\n", platformName, req.Country.Code)
	fmt.Fprintf(&b, "Client device: %s\n\n", req.Device.String())
	b.WriteString("The image is a payslip, bank statement or utility bill.\n")
	b.WriteString("1. Name the document type.\n")
	b.WriteString("2. Extract the monthly income, or 0 when there is none.\n")
	b.WriteString("3. Name the employer or issuing bank.\n")
	b.WriteString("4. Look for digital tampering such as mismatched fonts or pixelation.\n")
	b.WriteString("5. Score fraud risk from 0 (clean) to 100 (certain fraud).\n")
	b.WriteString("6. Comment briefly on whether the device fits the document.\n\n")
	b.WriteString("Reply with JSON only: isAuthentic, documentType, extractedIncome, employerName, ")
	b.WriteString("fraudRiskScore, deviceRiskAnalysis, notes.")
	return b.String()
}

func contractPrompt(req TextRequest) string {
	c, t := req.Country, req.Contract
	law := c.LegalFramework
	if law == "" {
		law = "International Finance Law"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Draft a formal Financial Facilitation Agreement for %s.\n\n", platformName)
	b.WriteString("Parties:\n")
	fmt.Fprintf(&b, "1. %s, the intermediary platform\n", platformName)
	fmt.Fprintf(&b, "2. %s, the applicant, %s %s\n\n", t.ApplicantName, c.IDLabel, t.NationalID)
	b.WriteString("Terms:\n")
	fmt.Fprintf(&b, "- Principal: %s %.2f\n", c.Symbol, t.Amount)
	fmt.Fprintf(&b, "- Tenure: %d months\n", t.Months)
	fmt.Fprintf(&b, "- Estimated monthly repayment: %s %.2f\n", c.Symbol, t.MonthlyPayment)
	fmt.Fprintf(&b, "- Jurisdiction: %s\n", c.Name)
	fmt.Fprintf(&b, "- Governing law: %s\n\n", law)
	b.WriteString("Required clauses:\n")
	fmt.Fprintf(&b, "- %s uses AI to match the applicant with licensed lenders.\n", platformName)
	b.WriteString("- The applicant pays no brokerage fee; the platform is paid commission by the lender.\n")
	b.WriteString("- Consent to AI processing of biometric data.\n\n")
	b.WriteString("Use plain text with clear section headers and output only the agreement.")
	return b.String()
}

func chatSystemInstruction(req TextRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are SAIF-AI, the banking assistant of %s. The user is in %s.\n", platformName, req.Country.Name)
	b.WriteString("Help users understand loan matching across South and Southeast Asia. ")
	b.WriteString("Borrowers pay no fees; licensed lenders pay the platform.\n")
	fmt.Fprintf(&b, "Loans in %s range from %s %.0f to %s %.0f over 6 to 60 months.\n",
		req.Country.Name, req.Country.Symbol, req.Country.MinLoan, req.Country.Symbol, req.Country.MaxLoan)
	b.WriteString("Be concise and professional. Do not give investment advice.")
	return b.String()
}
