package sepa

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Debit is one collection inside a direct-debit order.
type Debit struct {
	EndToEndID string
	Amount     decimal.Decimal
	Currency   string
	Mandate    Mandate
	Remittance string
}

// Order is a batch of collections due on one date.
type Order struct {
	CollectionDate time.Time
	Debits         []Debit
}

// pain.008.001.02 document layout, limited to the elements the banks we
// upload to require.
type document struct {
	XMLName   xml.Name  `xml:"urn:iso:std:iso:20022:tech:xsd:pain.008.001.02 Document"`
	Initiation ddInitiation `xml:"CstmrDrctDbtInitn"`
}

type ddInitiation struct {
	Header  groupHeader `xml:"GrpHdr"`
	Payment paymentInfo `xml:"PmtInf"`
}

type groupHeader struct {
	MessageID    string `xml:"MsgId"`
	CreatedAt    string `xml:"CreDtTm"`
	TxCount      int    `xml:"NbOfTxs"`
	ControlSum   string `xml:"CtrlSum"`
	InitiatorName string `xml:"InitgPty>Nm"`
}

type paymentInfo struct {
	ID             string       `xml:"PmtInfId"`
	Method         string       `xml:"PmtMtd"`
	TxCount        int          `xml:"NbOfTxs"`
	ControlSum     string       `xml:"CtrlSum"`
	ServiceLevel   string       `xml:"PmtTpInf>SvcLvl>Cd"`
	LocalInstrument string      `xml:"PmtTpInf>LclInstrm>Cd"`
	SequenceType   string       `xml:"PmtTpInf>SeqTp"`
	CollectionDate string       `xml:"ReqdColltnDt"`
	CreditorName   string       `xml:"Cdtr>Nm"`
	CreditorIBAN   string       `xml:"CdtrAcct>Id>IBAN"`
	CreditorScheme schemeID     `xml:"CdtrSchmeId>Id>PrvtId>Othr"`
	Transactions   []ddTransaction `xml:"DrctDbtTxInf"`
}

type schemeID struct {
	ID     string `xml:"Id"`
	Scheme string `xml:"SchmeNm>Prtry"`
}

type ddTransaction struct {
	EndToEndID    string `xml:"PmtId>EndToEndId"`
	Amount        instructedAmount `xml:"InstdAmt"`
	MandateID     string `xml:"DrctDbtTx>MndtRltdInf>MndtId"`
	MandateSigned string `xml:"DrctDbtTx>MndtRltdInf>DtOfSgntr"`
	DebtorName    string `xml:"Dbtr>Nm"`
	DebtorIBAN    string `xml:"DbtrAcct>Id>IBAN"`
	Remittance    string `xml:"RmtInf>Ustrd"`
}

type instructedAmount struct {
	Currency string `xml:"Ccy,attr"`
	Value    string `xml:",chardata"`
}

// BuildPain008 serialises an order into a pain.008.001.02 XML payload.
func BuildPain008(creditor Creditor, order Order, now time.Time) ([]byte, error) {
	if creditor.IBAN == "" || creditor.ID == "" {
		return nil, errors.New("sepa: creditor not configured")
	}
	if len(order.Debits) == 0 {
		return nil, errors.New("sepa: order has no debits")
	}

	total := decimal.Zero
	txs := make([]ddTransaction, 0, len(order.Debits))
	for _, d := range order.Debits {
		if !d.Mandate.Valid() {
			return nil, fmt.Errorf("sepa: debit %s has no valid mandate", d.EndToEndID)
		}
		if !d.Amount.IsPositive() {
			return nil, fmt.Errorf("sepa: debit %s amount must be positive", d.EndToEndID)
		}
		total = total.Add(d.Amount)
		txs = append(txs, ddTransaction{
			EndToEndID:    d.EndToEndID,
			Amount:        instructedAmount{Currency: d.Currency, Value: d.Amount.StringFixed(2)},
			MandateID:     d.Mandate.ID,
			MandateSigned: d.Mandate.SignedOn.Format("2006-01-02"),
			DebtorName:    d.Mandate.Name,
			DebtorIBAN:    d.Mandate.IBAN,
			Remittance:    d.Remittance,
		})
	}

	doc := document{
		Initiation: ddInitiation{
			Header: groupHeader{
				MessageID:     uuid.NewString(),
				CreatedAt:     now.UTC().Format("2006-01-02T15:04:05"),
				TxCount:       len(txs),
				ControlSum:    total.StringFixed(2),
				InitiatorName: creditor.Name,
			},
			Payment: paymentInfo{
				ID:              uuid.NewString(),
				Method:          "DD",
				TxCount:         len(txs),
				ControlSum:      total.StringFixed(2),
				ServiceLevel:    "SEPA",
				LocalInstrument: "CORE",
				SequenceType:    "RCUR",
				CollectionDate:  order.CollectionDate.Format("2006-01-02"),
				CreditorName:    creditor.Name,
				CreditorIBAN:    creditor.IBAN,
				CreditorScheme:  schemeID{ID: creditor.ID, Scheme: "SEPA"},
				Transactions:    txs,
			},
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("sepa: marshal pain.008: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
