package smp

// Publisher bundles the three managers of one registry.
type Publisher struct {
	ServiceGroups   *ServiceGroups
	ServiceMetadata *ServiceMetadata
	BusinessCards   *BusinessCards
	writer          *Writer
}

// NewPublisher creates the managers of the registry behind writer.
func NewPublisher(writer *Writer, endpoint Endpoint) *Publisher {
	return &Publisher{
		ServiceGroups:   NewServiceGroups(writer),
		ServiceMetadata: NewServiceMetadata(writer, endpoint),
		BusinessCards:   NewBusinessCards(writer),
		writer:          writer,
	}
}

// BaseURL returns the registry root the publisher writes to.
func (p *Publisher) BaseURL() string {
	return p.writer.BaseURL()
}
