package smp

import (
	"fmt"

	"github.com/beevik/etree"
)

// XML namespaces
const (
	NamespaceSMP          = "http://busdox.org/serviceMetadata/publishing/1.0/"
	NamespaceIdentifiers  = "http://busdox.org/transport/identifiers/1.0/"
	NamespaceAddressing   = "http://www.w3.org/2005/08/addressing"
	NamespaceBusinessCard = "http://www.peppol.eu/schema/pd/businesscard/20180621/"
)

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return doc
}

// newSMPRoot creates a root element in the SMP namespace with the ids
// prefix declared.
func newSMPRoot(doc *etree.Document, tag string) *etree.Element {
	root := doc.CreateElement(tag)
	root.CreateAttr("xmlns", NamespaceSMP)
	root.CreateAttr("xmlns:ids", NamespaceIdentifiers)
	return root
}

func addIdentifier(parent *etree.Element, tag, scheme, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.CreateAttr("scheme", scheme)
	el.SetText(value)
	return el
}

func serialize(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize XML: %w", err)
	}
	return data, nil
}
