package identifier

// Peppol BIS process identifiers.
const (
	ProcessBilling         = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"
	ProcessSelfBilling     = "urn:fdc:peppol.eu:2017:poacc:selfbilling:01:1.0"
	ProcessInvoiceResponse = "urn:fdc:peppol.eu:poacc:bis:invoice_response:3"
	ProcessMLR             = "urn:fdc:peppol.eu:poacc:bis:mlr:3"
	ProcessOrdering        = "urn:fdc:peppol.eu:poacc:bis:ordering:3"
	ProcessDespatchAdvice  = "urn:fdc:peppol.eu:poacc:bis:despatch_advice:3"
)

// Peppol document type identifiers.
const (
	DocTypeInvoice               = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::2.1"
	DocTypeCreditNote            = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2::CreditNote##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::2.1"
	DocTypeSelfBillingInvoice    = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:selfbilling:3.0::2.1"
	DocTypeSelfBillingCreditNote = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2::CreditNote##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:selfbilling:3.0::2.1"
	DocTypeCIIInvoice            = "urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100::CrossIndustryInvoice##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::D16B"
	DocTypeInvoiceResponse       = "urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2::ApplicationResponse##urn:fdc:peppol.eu:poacc:trns:invoice_response:3::2.1"
	DocTypeMLR                   = "urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2::ApplicationResponse##urn:fdc:peppol.eu:poacc:trns:mlr:3::2.1"
	DocTypeOrder                 = "urn:oasis:names:specification:ubl:schema:xsd:Order-2::Order##urn:fdc:peppol.eu:poacc:trns:order:3::2.1"
	DocTypeOrderResponse         = "urn:oasis:names:specification:ubl:schema:xsd:OrderResponse-2::OrderResponse##urn:fdc:peppol.eu:poacc:trns:order_response:3::2.1"
	DocTypeDespatchAdvice        = "urn:oasis:names:specification:ubl:schema:xsd:DespatchAdvice-2::DespatchAdvice##urn:fdc:peppol.eu:poacc:trns:despatch_advice:3::2.1"
)

var documentTypeNames = map[string]string{
	DocTypeInvoice:               "Invoice (Peppol BIS Billing 3.0, UBL)",
	DocTypeCreditNote:            "Credit Note (Peppol BIS Billing 3.0, UBL)",
	DocTypeSelfBillingInvoice:    "Self-billing Invoice (Peppol BIS 3.0, UBL)",
	DocTypeSelfBillingCreditNote: "Self-billing Credit Note (Peppol BIS 3.0, UBL)",
	DocTypeCIIInvoice:            "Invoice (Peppol BIS Billing 3.0, CII)",
	DocTypeInvoiceResponse:       "Invoice Response",
	DocTypeMLR:                   "Message Level Response",
	DocTypeOrder:                 "Order",
	DocTypeOrderResponse:         "Order Response",
	DocTypeDespatchAdvice:        "Despatch Advice",
}

// DocumentTypeName returns the human-readable name of a document type
// identifier and whether it is known.
func DocumentTypeName(documentType string) (string, bool) {
	name, ok := documentTypeNames[documentType]
	return name, ok
}

// DefaultCapabilities is the capability set published for a company that
// has not declared any document types.
func DefaultCapabilities() []Capability {
	return []Capability{
		{DocumentType: DocTypeInvoice, Process: ProcessBilling},
		{DocumentType: DocTypeCreditNote, Process: ProcessBilling},
		{DocumentType: DocTypeSelfBillingInvoice, Process: ProcessSelfBilling},
		{DocumentType: DocTypeSelfBillingCreditNote, Process: ProcessSelfBilling},
		{DocumentType: DocTypeInvoiceResponse, Process: ProcessInvoiceResponse},
		{DocumentType: DocTypeMLR, Process: ProcessMLR},
	}
}
